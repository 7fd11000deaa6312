package cachesync

import (
	"context"
	"sync"
	"testing"
)

// recorder collects partition notifications.
type recorder struct {
	mu    sync.Mutex
	snaps []Partition
}

func (r *recorder) fn(p Partition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, p)
}

func (r *recorder) last() (Partition, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Partition{}, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func TestSubscribe_NotifiedOnLoad(t *testing.T) {
	cache := NewCacheStore()
	s := NewSynchronizer(cache, newFakeContent("ashaar", 3), SynchronizerOptions{})
	sig := mustBuild(t, RawQuery{Table: "ashaar"})

	rec := &recorder{}
	unsubscribe := cache.Subscribe(sig, rec.fn)
	defer unsubscribe()

	if _, err := s.LoadNext(context.Background(), sig); err != nil {
		t.Fatalf("LoadNext: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.snaps) != 2 {
		t.Fatalf("notifications = %d, want 2 (loading, loaded)", len(rec.snaps))
	}
	if !rec.snaps[0].Loading {
		t.Error("first notification not Loading")
	}
	if got := rec.snaps[1]; got.Loading || len(got.Records()) != 3 || !got.Exhausted {
		t.Errorf("second notification = loading %v, %d records, exhausted %v", got.Loading, len(got.Records()), got.Exhausted)
	}
}

func TestSubscribe_OnlyMatchingPartition(t *testing.T) {
	cache := NewCacheStore()
	content := newFakeContent("ashaar", 1)
	content.records["rubai"] = []Record{{ID: "q", Fields: map[string]any{}}}
	s := NewSynchronizer(cache, content, SynchronizerOptions{})

	rec := &recorder{}
	defer cache.Subscribe(mustBuild(t, RawQuery{Table: "rubai"}), rec.fn)()

	if _, err := s.LoadNext(context.Background(), mustBuild(t, RawQuery{Table: "ashaar"})); err != nil {
		t.Fatal(err)
	}
	if _, n := rec.last(); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestUnsubscribe_DropsPartition(t *testing.T) {
	cache := NewCacheStore()
	s := NewSynchronizer(cache, newFakeContent("ghazlen", 2), SynchronizerOptions{})
	sig := mustBuild(t, RawQuery{Table: "ghazlen"})

	first := cache.Subscribe(sig, func(Partition) {})
	second := cache.Subscribe(sig, func(Partition) {})
	if _, err := s.LoadNext(context.Background(), sig); err != nil {
		t.Fatal(err)
	}

	first()
	first()
	if cache.Len() != 1 {
		t.Fatalf("Len = %d, want 1 while a subscriber remains", cache.Len())
	}
	second()
	if cache.Len() != 0 {
		t.Errorf("Len = %d, want 0 after last unsubscribe", cache.Len())
	}
}

func TestPrune(t *testing.T) {
	cache := NewCacheStore()
	s := NewSynchronizer(cache, newFakeContent("t", 2), SynchronizerOptions{})
	ctx := context.Background()

	kept := mustBuild(t, RawQuery{Table: "t", Search: "kept"})
	dropped := mustBuild(t, RawQuery{Table: "t", Search: "dropped"})
	defer cache.Subscribe(kept, func(Partition) {})()

	for _, sig := range []QuerySignature{kept, dropped} {
		if _, err := s.LoadNext(ctx, sig); err != nil {
			t.Fatal(err)
		}
	}
	if n := cache.Prune(); n != 1 {
		t.Errorf("Prune = %d, want 1", n)
	}
	if len(cache.Get(kept).Pages) != 1 {
		t.Error("subscribed partition pruned")
	}
}

func TestClear_NotifiesEmpty(t *testing.T) {
	cache := NewCacheStore()
	s := NewSynchronizer(cache, newFakeContent("nazmen", 2), SynchronizerOptions{})
	sig := mustBuild(t, RawQuery{Table: "nazmen"})

	rec := &recorder{}
	defer cache.Subscribe(sig, rec.fn)()
	if _, err := s.LoadNext(context.Background(), sig); err != nil {
		t.Fatal(err)
	}

	cache.Clear()
	last, _ := rec.last()
	if len(last.Pages) != 0 || !last.Signature.Equal(sig) {
		t.Errorf("last notification = %+v, want empty partition", last)
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d, want 0", cache.Len())
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	cache := NewCacheStore()
	s := NewSynchronizer(cache, newFakeContent("entries", 1), SynchronizerOptions{})
	sig := mustBuild(t, RawQuery{Table: "entries"})
	if _, err := s.LoadNext(context.Background(), sig); err != nil {
		t.Fatal(err)
	}

	p := cache.Get(sig)
	p.Pages[0].Records[0].Fields["title"] = "changed"
	p.Pages[0].Records[0].ID = "changed"

	again := cache.Get(sig).Pages[0].Records[0]
	if again.ID != "r00" || again.Fields["title"] != "title 0" {
		t.Errorf("cached record mutated through snapshot: %+v", again)
	}
}

func TestUnsubscribe_DuringLoadDropsWhenLoadEnds(t *testing.T) {
	content := newFakeContent("ghazlen", 2)
	content.gate = make(chan struct{})
	content.started = make(chan struct{}, 1)
	cache := NewCacheStore()
	s := NewSynchronizer(cache, content, SynchronizerOptions{})
	sig := mustBuild(t, RawQuery{Table: "ghazlen"})

	unsubscribe := cache.Subscribe(sig, func(Partition) {})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.LoadNext(context.Background(), sig)
	}()
	<-content.started

	unsubscribe()
	if cache.Len() != 1 {
		t.Fatalf("Len = %d, want 1 while the load is in flight", cache.Len())
	}
	close(content.gate)
	<-done

	if cache.Len() != 0 {
		t.Errorf("Len = %d, want 0 once the load ended", cache.Len())
	}
}

func TestUnsubscribe_DuringLoadKeptOnResubscribe(t *testing.T) {
	content := newFakeContent("ghazlen", 2)
	content.gate = make(chan struct{})
	content.started = make(chan struct{}, 1)
	cache := NewCacheStore()
	s := NewSynchronizer(cache, content, SynchronizerOptions{})
	sig := mustBuild(t, RawQuery{Table: "ghazlen"})

	first := cache.Subscribe(sig, func(Partition) {})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.LoadNext(context.Background(), sig)
	}()
	<-content.started

	first()
	defer cache.Subscribe(sig, func(Partition) {})()
	close(content.gate)
	<-done

	if got := len(cache.Get(sig).Pages); got != 1 {
		t.Errorf("pages = %d, want 1 for the resubscribed partition", got)
	}
}
