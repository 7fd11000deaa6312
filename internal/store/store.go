package store

import (
	"context"
	"time"
)

// Profile is the key/value blob the identity provider keeps per user.
// Version increases by one on every successful write.
type Profile struct {
	UserID    string
	Blob      []byte
	Version   int64
	UpdatedAt time.Time
}

// ProfileStore defines the interface contract for profile blob storage.
//
// WriteProfile is conditional: expectedVersion must match the stored version,
// or be 0 when the profile does not exist yet. A mismatch returns ErrVersionConflict.
type ProfileStore interface {
	ReadProfile(ctx context.Context, userID string) (*Profile, error)
	WriteProfile(ctx context.Context, userID string, blob []byte, expectedVersion int64) (int64, error)
	DeleteProfile(ctx context.Context, userID string) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats holds aggregate store statistics.
type Stats struct {
	ProfileCount int64
	LastWrite    *time.Time
}
