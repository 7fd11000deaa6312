package cachesync

import (
	"context"
	"errors"
	"sort"
	"testing"
)

type fakeMerger struct {
	calls []Likes
	err   error
}

func (m *fakeMerger) Merge(_ context.Context, likes Likes) (Likes, error) {
	m.calls = append(m.calls, likes)
	if m.err != nil {
		return nil, m.err
	}
	return likes, nil
}

func stateOf(t *testing.T, m *Migrator) MigrationState {
	t.Helper()
	s, err := m.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	return s
}

func TestMigrator_NothingToMigrate(t *testing.T) {
	kv := NewMemoryKV()
	merger := &fakeMerger{}
	m := NewMigrator(kv, merger)

	if got := stateOf(t, m); got != MigrationPending {
		t.Errorf("initial state = %q, want pending", got)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(merger.calls) != 0 {
		t.Errorf("Merge called %d times, want 0", len(merger.calls))
	}
	if got := stateOf(t, m); got != MigrationDone {
		t.Errorf("state = %q, want done", got)
	}
}

func TestMigrator_MergesOnce(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.Set(ctx, LegacyLikesKey, `{"ashaar":["a1","a2"],"rubai":["r1"," "]}`)
	merger := &fakeMerger{}
	m := NewMigrator(kv, merger)

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(merger.calls) != 1 {
		t.Fatalf("Merge called %d times, want 1", len(merger.calls))
	}
	got := merger.calls[0]
	if got.Len() != 3 || !got.Contains("ashaar", "a2") || !got.Contains("rubai", "r1") {
		t.Errorf("merged = %v", got)
	}
	if _, ok, _ := kv.Get(ctx, LegacyLikesKey); ok {
		t.Error("legacy key not deleted")
	}

	if err := m.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(merger.calls) != 1 {
		t.Errorf("Merge called again after done")
	}
}

func TestMigrator_FailureStaysPending(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.Set(ctx, LegacyLikesKey, `[{"table":"nazmen","id":"n1"}]`)
	merger := &fakeMerger{err: ErrNetwork}
	m := NewMigrator(kv, merger)

	if err := m.Run(ctx); !errors.Is(err, ErrNetwork) {
		t.Fatalf("Run err = %v, want ErrNetwork", err)
	}
	if got := stateOf(t, m); got != MigrationPending {
		t.Errorf("state = %q, want pending", got)
	}
	if _, ok, _ := kv.Get(ctx, LegacyLikesKey); !ok {
		t.Error("legacy key deleted after failed merge")
	}

	// Next session retries
	merger.err = nil
	if err := m.Run(ctx); err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if len(merger.calls) != 2 {
		t.Errorf("Merge calls = %d, want 2", len(merger.calls))
	}
	if got := stateOf(t, m); got != MigrationDone {
		t.Errorf("state = %q, want done", got)
	}
}

func TestMigrator_MalformedLegacyMarksDone(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.Set(ctx, LegacyLikesKey, `{not json`)
	merger := &fakeMerger{}
	m := NewMigrator(kv, merger)

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(merger.calls) != 0 {
		t.Error("Merge called for malformed payload")
	}
	if got := stateOf(t, m); got != MigrationDone {
		t.Errorf("state = %q, want done", got)
	}
}

func TestParseLegacyLikes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string][]string
	}{
		{"empty", "", nil},
		{"null", "null", nil},
		{"by table", `{"ashaar":["a"]}`, map[string][]string{"ashaar": {"a"}}},
		{"items", `[{"table":"ghazlen","id":"g1"},{"table":"ghazlen","id":"g2"},{"table":"","id":"x"}]`,
			map[string][]string{"ghazlen": {"g1", "g2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLegacyLikes(tt.raw)
			if err != nil {
				t.Fatalf("parseLegacyLikes: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for table, ids := range tt.want {
				have := append([]string(nil), got[table]...)
				sort.Strings(have)
				if len(have) != len(ids) {
					t.Errorf("%s = %v, want %v", table, have, ids)
					continue
				}
				for i := range ids {
					if have[i] != ids[i] {
						t.Errorf("%s = %v, want %v", table, have, ids)
					}
				}
			}
		})
	}
}

func TestMigrator_SQLiteKV(t *testing.T) {
	ctx := context.Background()
	kv, err := NewSQLiteKV(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}
	defer kv.Close()

	if err := kv.Set(ctx, LegacyLikesKey, `{"entries":["e1"]}`); err != nil {
		t.Fatal(err)
	}
	merger := &fakeMerger{}
	if err := NewMigrator(kv, merger).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	v, ok, err := kv.Get(ctx, MigrationStateKey)
	if err != nil || !ok || v != string(MigrationDone) {
		t.Errorf("state = %q, %v, %v", v, ok, err)
	}
}
