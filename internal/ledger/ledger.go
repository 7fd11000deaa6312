// Package ledger is the server-authoritative store of per-user liked record sets.
//
// The backing ProfileStore has no atomic set operations, so every mutation is a
// read-modify-write of the user's profile blob. Mutations for one user are
// serialized by an in-process lock, and each write is conditioned on the profile
// version that was read. A version mismatch (another instance wrote in between)
// is retried with a fresh read a bounded number of times before surfacing
// ErrConcurrentUpdate.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/ledgersync/internal/store"
)

// profileLikesKey is the profile blob key holding the likes ledger.
const profileLikesKey = "likes"

var (
	togglesLiked     = metrics.NewCounter(`ledger_toggles_total{liked="true"}`)
	togglesUnliked   = metrics.NewCounter(`ledger_toggles_total{liked="false"}`)
	mergesTotal      = metrics.NewCounter("ledger_merges_total")
	conflictsTotal   = metrics.NewCounter("ledger_version_conflicts_total")
	malformedTotal   = metrics.NewCounter("ledger_malformed_profiles_total")
	snapshotHitTotal = metrics.NewCounter("ledger_snapshot_hits_total")
)

// Clock abstracts time retrieval so snapshot expiry is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Ledger. Zero values select defaults.
type Options struct {
	MaxPerCategory  int           // default 500
	SnapshotTTL     time.Duration // default 5m; negative disables snapshots
	ConflictRetries int           // default 3
	RetryBase       time.Duration // default 10ms
	Clock           Clock
}

// ToggleResult is the outcome of a Toggle.
type ToggleResult struct {
	Liked bool
	Count int
	Likes Likes
}

type snapshot struct {
	likes Likes
	at    time.Time
}

// Ledger implements Get, Toggle and Merge over a ProfileStore.
type Ledger struct {
	store           store.ProfileStore
	maxPerCategory  int
	snapshotTTL     time.Duration
	conflictRetries int
	retryBase       time.Duration
	clock           Clock

	locks     *xsync.MapOf[string, *userLock]
	snapshots *xsync.MapOf[string, snapshot]
}

// New creates a Ledger backed by s.
func New(s store.ProfileStore, opts Options) *Ledger {
	if opts.MaxPerCategory <= 0 {
		opts.MaxPerCategory = 500
	}
	if opts.SnapshotTTL == 0 {
		opts.SnapshotTTL = 5 * time.Minute
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 10 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}

	return &Ledger{
		store:           s,
		maxPerCategory:  opts.MaxPerCategory,
		snapshotTTL:     opts.SnapshotTTL,
		conflictRetries: opts.ConflictRetries,
		retryBase:       opts.RetryBase,
		clock:           opts.Clock,
		locks:           xsync.NewMapOf[string, *userLock](),
		snapshots:       xsync.NewMapOf[string, snapshot](),
	}
}

// Get returns the user's likes. With fresh=false a recent snapshot may be
// served; it can lag writes made by other instances. The result is always a
// normalized Likes, even when the stored profile is malformed.
func (l *Ledger) Get(ctx context.Context, userID string, fresh bool) (Likes, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	if !fresh && l.snapshotTTL > 0 {
		if snap, ok := l.snapshots.Load(userID); ok && l.clock.Now().Sub(snap.at) < l.snapshotTTL {
			snapshotHitTotal.Inc()
			return snap.likes.Clone(), nil
		}
	}

	current, err := l.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	l.remember(userID, current.likes)
	return current.likes, nil
}

// Toggle flips membership of recordID in category for the user. The returned
// Count is the resulting size of that category.
func (l *Ledger) Toggle(ctx context.Context, userID, category, recordID string) (*ToggleResult, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	c, err := ParseCategory(category)
	if err != nil {
		return nil, err
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, ErrMissingRecordID
	}

	var result *ToggleResult
	err = l.mutate(ctx, userID, func(likes Likes) {
		liked := likes.toggle(c, recordID, l.maxPerCategory)
		result = &ToggleResult{Liked: liked, Count: likes.Count(c), Likes: likes}
	})
	if err != nil {
		return nil, err
	}

	if result.Liked {
		togglesLiked.Inc()
	} else {
		togglesUnliked.Inc()
	}
	slog.Debug("like toggled",
		"component", "ledger",
		"action", "toggle",
		"user_id", userID,
		"category", string(c),
		"record_id", recordID,
		"liked", result.Liked,
		"count", result.Count,
	)
	return result, nil
}

// Merge unions incoming into the user's likes and returns the merged result.
// It never removes existing entries except through the per-category cap.
// Unknown categories in incoming are ignored.
func (l *Ledger) Merge(ctx context.Context, userID string, incoming map[string][]string) (Likes, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	add, unknown := Normalize(incoming, 0)
	if len(unknown) > 0 {
		slog.Warn("merge ignored unknown categories",
			"component", "ledger",
			"action", "merge",
			"user_id", userID,
			"categories", unknown,
		)
	}

	var merged Likes
	err := l.mutate(ctx, userID, func(likes Likes) {
		likes.union(add, l.maxPerCategory)
		merged = likes
	})
	if err != nil {
		return nil, err
	}

	mergesTotal.Inc()
	slog.Info("likes merged",
		"component", "ledger",
		"action", "merge",
		"user_id", userID,
		"incoming", add.Total(),
		"total", merged.Total(),
	)
	return merged, nil
}

// Clear removes every like for the user and keeps the rest of the profile.
func (l *Ledger) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	err := l.mutate(ctx, userID, func(likes Likes) {
		for c := range likes {
			likes[c] = []string{}
		}
	})
	if err != nil {
		return err
	}
	slog.Info("likes cleared",
		"component", "ledger",
		"action", "clear",
		"user_id", userID,
	)
	return nil
}

// Purge deletes the user's whole profile blob. Purging a user with no
// profile is not an error.
func (l *Ledger) Purge(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	l.lock(userID)
	defer l.unlock(userID)

	err := l.store.DeleteProfile(ctx, userID)
	l.Forget(userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	slog.Info("profile purged",
		"component", "ledger",
		"action", "purge",
		"user_id", userID,
	)
	return nil
}

// Forget drops the cached snapshot for a user.
func (l *Ledger) Forget(userID string) {
	l.snapshots.Delete(userID)
}

// Sweep drops expired snapshots and returns how many were removed.
func (l *Ledger) Sweep() int {
	now := l.clock.Now()
	removed := 0
	l.snapshots.Range(func(userID string, snap snapshot) bool {
		if now.Sub(snap.at) >= l.snapshotTTL {
			l.snapshots.Delete(userID)
			removed++
		}
		return true
	})
	return removed
}

// userLock serializes writes for one user. refs counts holders and waiters;
// the entry is removed when it drops to zero.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *Ledger) lock(userID string) {
	ul, _ := l.locks.Compute(userID, func(ul *userLock, loaded bool) (*userLock, bool) {
		if !loaded {
			ul = &userLock{}
		}
		ul.refs++
		return ul, false
	})
	ul.mu.Lock()
}

func (l *Ledger) unlock(userID string) {
	ul, ok := l.locks.Load(userID)
	if !ok {
		return
	}
	ul.mu.Unlock()
	l.locks.Compute(userID, func(ul *userLock, loaded bool) (*userLock, bool) {
		if !loaded {
			return ul, true
		}
		ul.refs--
		return ul, ul.refs == 0
	})
}

// current is a decoded profile: the likes plus the rest of the blob, which
// must survive a rewrite untouched.
type current struct {
	likes   Likes
	rest    map[string]json.RawMessage
	version int64
}

// mutate runs fn against a fresh read and writes the result conditionally,
// retrying on version conflicts.
func (l *Ledger) mutate(ctx context.Context, userID string, fn func(Likes)) error {
	l.lock(userID)
	defer l.unlock(userID)

	backoff := retry.WithMaxRetries(uint64(l.conflictRetries), retry.NewExponential(l.retryBase))

	var written Likes
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cur, err := l.read(ctx, userID)
		if err != nil {
			return err
		}

		fn(cur.likes)

		blob, err := encodeProfile(cur)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}

		if _, err := l.store.WriteProfile(ctx, userID, blob, cur.version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				conflictsTotal.Inc()
				slog.Warn("profile version conflict",
					"component", "ledger",
					"action", "write_conflict",
					"user_id", userID,
					"version", cur.version,
				)
				return retry.RetryableError(err)
			}
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		written = cur.likes
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			l.Forget(userID)
			return ErrConcurrentUpdate
		}
		return err
	}

	l.remember(userID, written)
	return nil
}

// read loads the profile and decodes the likes, tolerating malformed data.
func (l *Ledger) read(ctx context.Context, userID string) (*current, error) {
	p, err := l.store.ReadProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &current{likes: Empty(), rest: map[string]json.RawMessage{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	cur := &current{version: p.Version}
	if err := json.Unmarshal(p.Blob, &cur.rest); err != nil || cur.rest == nil {
		malformedTotal.Inc()
		slog.Warn("malformed profile blob, treating as empty",
			"component", "ledger",
			"action", "decode_profile",
			"user_id", userID,
			"error", err,
		)
		cur.rest = map[string]json.RawMessage{}
		cur.likes = Empty()
		return cur, nil
	}

	raw := map[string][]string{}
	if data, ok := cur.rest[profileLikesKey]; ok {
		if err := json.Unmarshal(data, &raw); err != nil {
			// Tolerate per-category damage: keep the categories that decode
			raw = decodeLenient(data)
			malformedTotal.Inc()
			slog.Warn("malformed likes in profile, salvaging valid categories",
				"component", "ledger",
				"action", "decode_likes",
				"user_id", userID,
				"error", err,
			)
		}
	}

	likes, unknown := Normalize(raw, l.maxPerCategory)
	if len(unknown) > 0 {
		slog.Warn("profile has unknown like categories",
			"component", "ledger",
			"action", "decode_likes",
			"user_id", userID,
			"categories", unknown,
		)
	}
	cur.likes = likes
	return cur, nil
}

// decodeLenient salvages string-array categories from a damaged likes object.
func decodeLenient(data []byte) map[string][]string {
	out := map[string][]string{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return out
	}
	for name, v := range fields {
		var ids []string
		if err := json.Unmarshal(v, &ids); err == nil {
			out[name] = ids
			continue
		}
		// Mixed arrays: keep only the string members
		var items []any
		if err := json.Unmarshal(v, &items); err == nil {
			for _, item := range items {
				if s, ok := item.(string); ok {
					ids = append(ids, s)
				}
			}
			out[name] = ids
		}
	}
	return out
}

func encodeProfile(cur *current) ([]byte, error) {
	likes, err := json.Marshal(cur.likes)
	if err != nil {
		return nil, err
	}
	cur.rest[profileLikesKey] = likes
	return json.Marshal(cur.rest)
}

func (l *Ledger) remember(userID string, likes Likes) {
	if l.snapshotTTL <= 0 {
		return
	}
	l.snapshots.Store(userID, snapshot{likes: likes.Clone(), at: l.clock.Now()})
}
