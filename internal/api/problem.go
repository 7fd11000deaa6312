package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyperengineering/ledgersync/internal/ledger"
	"github.com/hyperengineering/ledgersync/internal/validation"
)

const problemBaseURI = "https://ledgersync.dev/errors/"

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type slugs.
var problemTypes = map[int]string{
	http.StatusBadRequest:            "bad-request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not-found",
	http.StatusMethodNotAllowed:      "method-not-allowed",
	http.StatusConflict:              "concurrent-update",
	http.StatusRequestEntityTooLarge: "payload-too-large",
	http.StatusTooManyRequests:       "rate-limit",
	http.StatusInternalServerError:   "internal-error",
	http.StatusServiceUnavailable:    "service-unavailable",
}

func newProblem(r *http.Request, status int, detail string) Problem {
	slug, ok := problemTypes[status]
	if !ok {
		slug = "unknown"
	}
	return Problem{
		Type:      problemBaseURI + slug,
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
	}
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 400 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblemBody(w, http.StatusBadRequest, ProblemWithErrors{
		Problem: newProblem(r, http.StatusBadRequest, detail),
		Errors:  errs,
	})
}

// MapLedgerError converts ledger errors to Problem Details responses.
func MapLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidCategory):
		WriteProblem(w, r, http.StatusBadRequest, "Unknown table")
	case errors.Is(err, ledger.ErrMissingRecordID):
		WriteProblem(w, r, http.StatusBadRequest, "recordId is required")
	case errors.Is(err, ledger.ErrMissingUserID):
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid bearer token")
	case errors.Is(err, ledger.ErrConcurrentUpdate):
		WriteProblem(w, r, http.StatusConflict, "Concurrent update, retry the request")
	case errors.Is(err, ledger.ErrStoreUnavailable):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Profile store unavailable")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
