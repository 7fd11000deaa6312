package cachesync

import (
	"context"
	"errors"
	"testing"
)

type fakeToggleClient struct {
	res *ToggleResult
	err error
	// seen is the cached record when Toggle was called
	seen  Record
	cache *Synchronizer
	sig   QuerySignature
}

func (f *fakeToggleClient) Toggle(_ context.Context, table, id string) (*ToggleResult, error) {
	if f.cache != nil {
		for _, r := range f.cache.GetOrCreate(f.sig).Records() {
			if r.ID == id {
				f.seen = r
			}
		}
	}
	return f.res, f.err
}

func likedContent() *fakeContent {
	f := newFakeContent("ashaar", 0)
	f.records["ashaar"] = []Record{
		{ID: "a1", Fields: map[string]any{LikedField: false, LikeCountField: float64(4)}},
		{ID: "a2", Fields: map[string]any{LikedField: true, LikeCountField: float64(1)}},
	}
	return f
}

func fieldsOf(t *testing.T, s *Synchronizer, sig QuerySignature, id string) map[string]any {
	t.Helper()
	for _, r := range s.GetOrCreate(sig).Records() {
		if r.ID == id {
			return r.Fields
		}
	}
	t.Fatalf("record %s not cached", id)
	return nil
}

func TestLikeToggler_OptimisticThenConfirmed(t *testing.T) {
	e, sigs := loadedEngine(t, likedContent(), RawQuery{Table: "ashaar"})
	client := &fakeToggleClient{
		res:   &ToggleResult{Liked: true, Count: 1},
		cache: e.sync,
		sig:   sigs[0],
	}

	res, err := NewLikeToggler(e, client).Toggle(context.Background(), sigs, "ashaar", "a1")
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !res.Liked {
		t.Errorf("result = %+v", res)
	}
	if client.seen.Fields[LikedField] != true || client.seen.Fields[LikeCountField] != float64(5) {
		t.Errorf("cache during call = %v, want optimistic heart and count", client.seen.Fields)
	}

	f := fieldsOf(t, e.sync, sigs[0], "a1")
	if f[LikedField] != true || f[LikeCountField] != float64(5) {
		t.Errorf("fields = %v", f)
	}
}

func TestLikeToggler_Unlike(t *testing.T) {
	e, sigs := loadedEngine(t, likedContent(), RawQuery{Table: "ashaar"})
	client := &fakeToggleClient{res: &ToggleResult{Liked: false}}

	if _, err := NewLikeToggler(e, client).Toggle(context.Background(), sigs, "ashaar", "a2"); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	f := fieldsOf(t, e.sync, sigs[0], "a2")
	if f[LikedField] != false || f[LikeCountField] != float64(0) {
		t.Errorf("fields = %v", f)
	}
}

func TestLikeToggler_FailureReverts(t *testing.T) {
	e, sigs := loadedEngine(t, likedContent(), RawQuery{Table: "ashaar"})
	client := &fakeToggleClient{err: &StatusError{Kind: ErrRateLimited, Status: 429}}

	_, err := NewLikeToggler(e, client).Toggle(context.Background(), sigs, "ashaar", "a1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	f := fieldsOf(t, e.sync, sigs[0], "a1")
	if f[LikedField] != false || f[LikeCountField] != float64(4) {
		t.Errorf("fields = %v, want previous heart and count", f)
	}
}

func TestLikeToggler_ServerAnswerWins(t *testing.T) {
	e, sigs := loadedEngine(t, likedContent(), RawQuery{Table: "ashaar"})
	// Cached heart was stale: the server says the record is now unliked
	client := &fakeToggleClient{res: &ToggleResult{Liked: false}}

	if _, err := NewLikeToggler(e, client).Toggle(context.Background(), sigs, "ashaar", "a1"); err != nil {
		t.Fatal(err)
	}
	f := fieldsOf(t, e.sync, sigs[0], "a1")
	if f[LikedField] != false {
		t.Errorf("liked = %v, want server answer false", f[LikedField])
	}
	if f[LikeCountField] != float64(4) {
		t.Errorf("likes = %v, want 4: the counter follows the server's heart", f[LikeCountField])
	}
}

func TestLikeToggler_ServerAnswerWinsPerPartition(t *testing.T) {
	content := likedContent()
	e, sigs := loadedEngine(t, content,
		RawQuery{Table: "ashaar"},
		RawQuery{Table: "ashaar", Search: "a"},
	)
	// The second partition already shows the heart the server will confirm
	e.patch(sigs[1:], "a1", func(fields map[string]any) {
		fields[LikedField] = true
		fields[LikeCountField] = float64(5)
	})
	client := &fakeToggleClient{res: &ToggleResult{Liked: false}}

	if _, err := NewLikeToggler(e, client).Toggle(context.Background(), sigs, "ashaar", "a1"); err != nil {
		t.Fatal(err)
	}
	for i, sig := range sigs {
		f := fieldsOf(t, e.sync, sig, "a1")
		if f[LikedField] != false || f[LikeCountField] != float64(4) {
			t.Errorf("partition %d fields = %v, want liked=false likes=4", i, f)
		}
	}
}

func TestSetLiked(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		liked  bool
		want   map[string]any
	}{
		{"like", map[string]any{LikedField: false, LikeCountField: float64(2)}, true,
			map[string]any{LikedField: true, LikeCountField: float64(3)}},
		{"unlike floors at zero", map[string]any{LikedField: true, LikeCountField: float64(0)}, false,
			map[string]any{LikedField: false, LikeCountField: float64(0)}},
		{"unchanged heart keeps counter", map[string]any{LikedField: true, LikeCountField: float64(7)}, true,
			map[string]any{LikedField: true, LikeCountField: float64(7)}},
		{"no counter", map[string]any{}, true,
			map[string]any{LikedField: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setLiked(tt.fields, tt.liked)
			if len(tt.fields) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", tt.fields, tt.want)
			}
			for k, v := range tt.want {
				if tt.fields[k] != v {
					t.Errorf("%s = %v, want %v", k, tt.fields[k], v)
				}
			}
		})
	}
}
