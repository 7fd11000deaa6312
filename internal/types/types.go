package types

import (
	"github.com/hyperengineering/ledgersync/internal/ledger"
)

// Likes actions accepted by POST /likes
const (
	ActionToggle = "toggle"
	ActionMerge  = "merge"
)

// LikesRequest is the body of POST /likes. Table and RecordID apply to
// toggle; Likes applies to merge.
type LikesRequest struct {
	Action   string              `json:"action"`
	Table    string              `json:"table,omitempty"`
	RecordID string              `json:"recordId,omitempty"`
	Likes    map[string][]string `json:"likes,omitempty"`
}

// LikesResponse is the body of GET /likes.
type LikesResponse struct {
	Likes     ledger.Likes `json:"likes"`
	Timestamp string       `json:"timestamp"`
}

// ToggleResponse is the body of a successful toggle.
type ToggleResponse struct {
	Liked bool         `json:"liked"`
	Count int          `json:"count"`
	Likes ledger.Likes `json:"likes"`
}

// MergeResponse is the body of a successful merge.
type MergeResponse struct {
	OK    bool         `json:"ok"`
	Likes ledger.Likes `json:"likes"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	SchemaVersion int64   `json:"schema_version,omitempty"`
	ProfileCount  int64   `json:"profile_count"`
	LastWrite     *string `json:"last_write,omitempty"`
}
