package store

import "errors"

var (
	ErrNotFound        = errors.New("profile not found")
	ErrVersionConflict = errors.New("profile version conflict")
	ErrMissingUserID   = errors.New("user id is required")
)
