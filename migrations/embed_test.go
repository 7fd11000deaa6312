package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_ListsInitialSchema(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob embedded FS: %v", err)
	}
	if len(names) == 0 || names[0] != "001_initial_schema.sql" {
		t.Errorf("migrations = %v, want 001_initial_schema.sql first", names)
	}
}

func TestFS_InitialSchemaContents(t *testing.T) {
	data, err := FS.ReadFile("001_initial_schema.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(data)

	for _, want := range []string{
		"-- +goose Up",
		"-- +goose Down",
		"CREATE TABLE profiles",
		"version    INTEGER NOT NULL DEFAULT 1",
		"DROP TABLE IF EXISTS profiles",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration missing %q", want)
		}
	}
}
