package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/hyperengineering/ledgersync/internal/ledger"
	"github.com/hyperengineering/ledgersync/internal/store"
	"github.com/hyperengineering/ledgersync/internal/types"
	"github.com/hyperengineering/ledgersync/internal/validation"
)

// maxBodyBytes bounds a POST /likes body.
const maxBodyBytes = 1 << 20

// Handler implements the API handlers
type Handler struct {
	ledger  *ledger.Ledger
	store   store.ProfileStore
	version string
	now     func() time.Time
}

// NewHandler creates a new Handler over the ledger and its backing store.
func NewHandler(l *ledger.Ledger, s store.ProfileStore, version string) *Handler {
	return &Handler{
		ledger:  l,
		store:   s,
		version: version,
		now:     time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Profile store unavailable")
		return
	}

	resp := types.HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		ProfileCount: stats.ProfileCount,
	}
	if stats.LastWrite != nil {
		s := stats.LastWrite.UTC().Format(time.RFC3339)
		resp.LastWrite = &s
	}
	if db, ok := h.store.(interface{ DB() *sql.DB }); ok {
		if v, err := store.SchemaVersion(db.DB()); err == nil {
			resp.SchemaVersion = v
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Metrics serves counters in Prometheus text format.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}

// GetLikes handles GET /likes
func (h *Handler) GetLikes(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid bearer token")
		return
	}

	fresh := false
	if v := r.URL.Query().Get("fresh"); v != "" {
		fresh, err = strconv.ParseBool(v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid fresh parameter: %q", v))
			return
		}
	}

	likes, err := h.ledger.Get(r.Context(), userID, fresh)
	if err != nil {
		slog.Error("get likes failed", "component", "api", "action", "get_likes", "user_id", userID, "error", err)
		MapLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.LikesResponse{
		Likes:     likes,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// PostLikes handles POST /likes for the toggle and merge actions.
func (h *Handler) PostLikes(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid bearer token")
		return
	}

	var req types.LikesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.ValidateLikesRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	switch req.Action {
	case types.ActionToggle:
		res, err := h.ledger.Toggle(r.Context(), userID, req.Table, req.RecordID)
		if err != nil {
			slog.Error("toggle failed", "component", "api", "action", "toggle", "user_id", userID, "error", err)
			MapLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ToggleResponse{Liked: res.Liked, Count: res.Count, Likes: res.Likes})

	case types.ActionMerge:
		merged, err := h.ledger.Merge(r.Context(), userID, req.Likes)
		if err != nil {
			slog.Error("merge failed", "component", "api", "action", "merge", "user_id", userID, "error", err)
			MapLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MergeResponse{OK: true, Likes: merged})
	}
}
