package cachesync

import (
	"context"
)

// Record fields the LikeToggler maintains.
const (
	LikedField     = "liked"
	LikeCountField = "likes"
)

// LikeToggleClient toggles a like on the server.
type LikeToggleClient interface {
	Toggle(ctx context.Context, table, recordID string) (*ToggleResult, error)
}

// LikeToggler flips a record's heart and like counter in the cache at once,
// then confirms with the ledger. A failed toggle revalidates the affected
// partitions, which restores the previous heart and counter.
type LikeToggler struct {
	engine *Engine
	client LikeToggleClient
}

// NewLikeToggler creates a LikeToggler.
func NewLikeToggler(engine *Engine, client LikeToggleClient) *LikeToggler {
	return &LikeToggler{engine: engine, client: client}
}

// Toggle toggles the like on record id of table in every listed partition.
// Where the server's answer differs from the optimistic heart, the heart and
// counter are corrected to match it.
func (t *LikeToggler) Toggle(ctx context.Context, sigs []QuerySignature, table, id string) (*ToggleResult, error) {
	pending := t.engine.PatchRecord(sigs, id, func(fields map[string]any) {
		liked, _ := fields[LikedField].(bool)
		setLiked(fields, !liked)
	})

	var res *ToggleResult
	err := pending.Commit(ctx, func(ctx context.Context) (*Record, error) {
		var err error
		res, err = t.client.Toggle(ctx, table, id)
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	t.engine.patch(sigs, id, func(fields map[string]any) {
		setLiked(fields, res.Liked)
	})
	return res, nil
}

// setLiked sets the heart and moves the counter by one when the heart
// changes. The counter never goes below zero.
func setLiked(fields map[string]any, liked bool) {
	was, _ := fields[LikedField].(bool)
	if was == liked {
		return
	}
	fields[LikedField] = liked
	count, ok := numeric(fields[LikeCountField])
	if !ok {
		return
	}
	if liked {
		count++
	} else {
		count--
	}
	if count < 0 {
		count = 0
	}
	fields[LikeCountField] = count
}

// numeric reads a counter decoded from JSON or set locally.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
