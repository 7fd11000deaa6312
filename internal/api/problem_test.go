package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperengineering/ledgersync/internal/ledger"
	"github.com/hyperengineering/ledgersync/internal/validation"
)

func TestWriteProblem_Format(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/likes", nil)

	WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid bearer token")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}

	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Type != "https://ledgersync.dev/errors/unauthorized" {
		t.Errorf("type = %q", p.Type)
	}
	if p.Title != "Unauthorized" {
		t.Errorf("title = %q, want Unauthorized", p.Title)
	}
	if p.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", p.Status)
	}
	if p.Instance != "/likes" {
		t.Errorf("instance = %q, want /likes", p.Instance)
	}
}

func TestWriteProblem_UnknownStatus(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/likes", nil)

	WriteProblem(w, r, http.StatusTeapot, "short and stout")

	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Type != "https://ledgersync.dev/errors/unknown" {
		t.Errorf("type = %q", p.Type)
	}
	if p.Title != http.StatusText(http.StatusTeapot) {
		t.Errorf("title = %q", p.Title)
	}
}

func TestWriteProblemWithErrors_400(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/likes", nil)

	errs := []validation.ValidationError{
		{Field: "table", Message: "must be one of: ashaar"},
		{Field: "recordId", Message: "is required"},
	}
	WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var p ProblemWithErrors
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Status != http.StatusBadRequest {
		t.Errorf("problem status = %d, want 400", p.Status)
	}
	if len(p.Errors) != 2 || p.Errors[1].Field != "recordId" {
		t.Errorf("errors = %+v", p.Errors)
	}
}

func TestMapLedgerError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid category", fmt.Errorf("%w: %q", ledger.ErrInvalidCategory, "x"), http.StatusBadRequest},
		{"missing record", ledger.ErrMissingRecordID, http.StatusBadRequest},
		{"missing user", ledger.ErrMissingUserID, http.StatusUnauthorized},
		{"concurrent", ledger.ErrConcurrentUpdate, http.StatusConflict},
		{"store down", fmt.Errorf("%w: disk", ledger.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/likes", nil)
			MapLedgerError(w, r, tt.err)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			var p Problem
			if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
				t.Fatal(err)
			}
			if p.Status != tt.want {
				t.Errorf("problem status = %d, want %d", p.Status, tt.want)
			}
		})
	}
}

func TestMapLedgerError_DoesNotLeakDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/likes", nil)
	MapLedgerError(w, r, errors.New("sqlite: /var/lib/secret.db locked"))

	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Detail != "Internal Server Error" {
		t.Errorf("detail = %q, want generic message", p.Detail)
	}
}
