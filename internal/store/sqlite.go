package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so updated_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the SQLite-backed profile store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for schema inspection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ReadProfile returns the stored profile or ErrNotFound.
func (s *SQLiteStore) ReadProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	var p Profile
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, blob, version, updated_at FROM profiles WHERE user_id = ?", userID,
	).Scan(&p.UserID, &p.Blob, &p.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	if t, err := time.Parse(timeFormat, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

// WriteProfile stores blob if expectedVersion matches and returns the new version.
func (s *SQLiteStore) WriteProfile(ctx context.Context, userID string, blob []byte, expectedVersion int64) (int64, error) {
	if userID == "" {
		return 0, ErrMissingUserID
	}

	now := time.Now().UTC().Format(timeFormat)

	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO profiles (user_id, blob, version, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(user_id) DO NOTHING
		`, userID, blob, now, now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE profiles SET blob = ?, version = version + 1, updated_at = ?
			WHERE user_id = ? AND version = ?
		`, blob, now, userID, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("write profile: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("write profile: %w", err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}

	return expectedVersion + 1, nil
}

// DeleteProfile removes a profile. Deleting a missing profile returns ErrNotFound.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM profiles WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStats returns aggregate store statistics
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	var count int64
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), MAX(updated_at) FROM profiles").Scan(&count, &last)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	stats := &Stats{ProfileCount: count}
	if last.Valid {
		if t, err := time.Parse(timeFormat, last.String); err == nil {
			stats.LastWrite = &t
		}
	}
	return stats, nil
}
