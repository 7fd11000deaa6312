package ledger

import "errors"

var (
	ErrInvalidCategory  = errors.New("invalid category")
	ErrMissingRecordID  = errors.New("record id is required")
	ErrMissingUserID    = errors.New("user id is required")
	ErrConcurrentUpdate = errors.New("concurrent update")
	ErrStoreUnavailable = errors.New("profile store unavailable")
)
