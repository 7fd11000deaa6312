package cachesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// KV keys used by the Migrator.
const (
	MigrationStateKey = "ledgersync.migration_state"
	LegacyLikesKey    = "legacy_likes"
)

// MigrationState records whether the legacy likes have been merged.
type MigrationState string

const (
	MigrationPending MigrationState = "pending"
	MigrationDone    MigrationState = "done"
)

// LikesMerger unions likes into the server-side ledger.
type LikesMerger interface {
	Merge(ctx context.Context, likes Likes) (Likes, error)
}

// Migrator merges the legacy local likes into the ledger once per install.
type Migrator struct {
	kv     KV
	merger LikesMerger
}

// NewMigrator creates a Migrator.
func NewMigrator(kv KV, merger LikesMerger) *Migrator {
	return &Migrator{kv: kv, merger: merger}
}

// State returns the persisted state. A missing state is pending.
func (m *Migrator) State(ctx context.Context) (MigrationState, error) {
	v, ok, err := m.kv.Get(ctx, MigrationStateKey)
	if err != nil {
		return "", err
	}
	if !ok || MigrationState(v) != MigrationDone {
		return MigrationPending, nil
	}
	return MigrationDone, nil
}

// Run performs the migration unless it is already done. The state becomes
// done when there is nothing to merge or the merge succeeds; a failed merge
// leaves it pending so the next session tries again.
func (m *Migrator) Run(ctx context.Context) error {
	state, err := m.State(ctx)
	if err != nil {
		return fmt.Errorf("read migration state: %w", err)
	}
	if state == MigrationDone {
		return nil
	}

	raw, ok, err := m.kv.Get(ctx, LegacyLikesKey)
	if err != nil {
		return fmt.Errorf("read legacy likes: %w", err)
	}

	var likes Likes
	if ok {
		likes, err = parseLegacyLikes(raw)
		if err != nil {
			// Unreadable legacy state can never be merged
			slog.Warn("discarding malformed legacy likes",
				"component", "cachesync",
				"action", "migrate",
				"error", err,
			)
			likes = nil
		}
	}

	if likes.Len() > 0 {
		if _, err := m.merger.Merge(ctx, likes); err != nil {
			return fmt.Errorf("merge legacy likes: %w", err)
		}
		slog.Info("legacy likes merged",
			"component", "cachesync",
			"action", "migrate",
			"count", likes.Len(),
		)
	}

	if err := m.kv.Set(ctx, MigrationStateKey, string(MigrationDone)); err != nil {
		return fmt.Errorf("write migration state: %w", err)
	}
	if ok {
		if err := m.kv.Delete(ctx, LegacyLikesKey); err != nil {
			return fmt.Errorf("delete legacy likes: %w", err)
		}
	}
	return nil
}

type legacyItem struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// parseLegacyLikes accepts either {"category": ["id", ...]} or
// [{"table": "category", "id": "id"}, ...]. Blank entries are skipped.
func parseLegacyLikes(raw string) (Likes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	likes := make(Likes)
	add := func(table, id string) {
		table, id = strings.TrimSpace(table), strings.TrimSpace(id)
		if table != "" && id != "" {
			likes[table] = append(likes[table], id)
		}
	}

	if strings.HasPrefix(raw, "[") {
		var items []legacyItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			add(it.Table, it.ID)
		}
		return likes, nil
	}

	var byTable map[string][]string
	if err := json.Unmarshal([]byte(raw), &byTable); err != nil {
		return nil, err
	}
	for table, ids := range byTable {
		for _, id := range ids {
			add(table, id)
		}
	}
	return likes, nil
}
