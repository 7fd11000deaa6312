package store

import (
	"database/sql"
	"fmt"

	"github.com/hyperengineering/ledgersync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending profile schema migrations using goose.
// The SQL files are embedded in the migrations package.
func RunMigrations(db *sql.DB) error {
	// goose logs every applied file to stdout otherwise
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the highest applied migration version.
func SchemaVersion(db *sql.DB) (int64, error) {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, fmt.Errorf("set dialect: %w", err)
	}
	v, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}
