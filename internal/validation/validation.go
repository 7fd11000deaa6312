package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/ledgersync/internal/ledger"
	"github.com/hyperengineering/ledgersync/internal/types"
)

const (
	// MaxRecordIDLength bounds a single record ID in runes.
	MaxRecordIDLength = 128

	// MaxMergeIDs bounds the number of IDs accepted in one merge request.
	MaxMergeIDs = 5000
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// categoryNames lists valid tables for error messages.
func categoryNames() []string {
	names := make([]string, len(ledger.Categories))
	for i, c := range ledger.Categories {
		names[i] = string(c)
	}
	return names
}

// ValidateRecordID checks a record ID is present and well-formed.
func ValidateRecordID(field, value string) []ValidationError {
	var c Collector
	if err := ValidateRequired(field, value); err != nil {
		c.Add(err)
		return c.Errors()
	}
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, MaxRecordIDLength))
	return c.Errors()
}

// ValidateLikesRequest validates a POST /likes body for its action.
func ValidateLikesRequest(req types.LikesRequest) []ValidationError {
	var c Collector

	if err := ValidateEnum("action", req.Action, []string{types.ActionToggle, types.ActionMerge}); err != nil {
		c.Add(err)
		return c.Errors()
	}

	switch req.Action {
	case types.ActionToggle:
		c.Add(ValidateEnum("table", strings.TrimSpace(req.Table), categoryNames()))
		for _, err := range ValidateRecordID("recordId", req.RecordID) {
			c.Add(&err)
		}

	case types.ActionMerge:
		if req.Likes == nil {
			c.Add(&ValidationError{Field: "likes", Message: "is required"})
			break
		}
		total := 0
		for name, ids := range req.Likes {
			total += len(ids)
			for i, id := range ids {
				field := fmt.Sprintf("likes.%s[%d]", name, i)
				c.Add(ValidateUTF8(field, id))
				c.Add(ValidateNoNullBytes(field, id))
				c.Add(ValidateMaxLength(field, id, MaxRecordIDLength))
			}
		}
		if total > MaxMergeIDs {
			c.Add(&ValidationError{
				Field:   "likes",
				Message: fmt.Sprintf("exceeds maximum of %d ids", MaxMergeIDs),
			})
		}
	}

	return c.Errors()
}
