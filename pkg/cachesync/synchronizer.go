package cachesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDedupWindow = 60 * time.Second
	DefaultRetryBase   = 500 * time.Millisecond
	DefaultMaxAttempts = 4
	DefaultLoadTimeout = 30 * time.Second
	// backoffAfter is the number of consecutive failures retried immediately.
	backoffAfter = 3
	maxBackoff   = 30 * time.Second
)

// SynchronizerOptions configures a Synchronizer. Zero values select defaults.
type SynchronizerOptions struct {
	// DedupWindow is how long a validated partition counts as fresh for Ensure.
	DedupWindow time.Duration
	// MaxAttempts bounds automatic attempts per load on ErrNetwork.
	MaxAttempts int
	// RetryBase is the first backoff delay once backoff starts.
	RetryBase time.Duration
	// LoadTimeout bounds one shared load, retries included. Loads run
	// detached from callers' contexts, so this is their only deadline.
	LoadTimeout time.Duration
	Now         func() time.Time
}

// Synchronizer fetches pages from a ContentStore into a CacheStore. At most
// one fetch per partition is in flight; concurrent callers share its result.
type Synchronizer struct {
	cache       *CacheStore
	content     ContentStore
	group       singleflight.Group
	dedupWindow time.Duration
	maxAttempts int
	retryBase   time.Duration
	loadTimeout time.Duration
	now         func() time.Time
}

// NewSynchronizer creates a Synchronizer writing into cache.
func NewSynchronizer(cache *CacheStore, content ContentStore, opts SynchronizerOptions) *Synchronizer {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		cache:       cache,
		content:     content,
		dedupWindow: opts.DedupWindow,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		loadTimeout: opts.LoadTimeout,
		now:         opts.Now,
	}
}

// Cache returns the store this Synchronizer writes into.
func (s *Synchronizer) Cache() *CacheStore {
	return s.cache
}

// GetOrCreate returns the cached partition for sig, or an empty one. No I/O.
func (s *Synchronizer) GetOrCreate(sig QuerySignature) Partition {
	return s.cache.Get(sig)
}

// LoadNext fetches the next page of the partition. An exhausted partition is
// returned as is. A call made while another fetch for the partition is in
// flight waits for that fetch instead of issuing its own. Canceling ctx stops
// this caller's wait, not the shared fetch.
func (s *Synchronizer) LoadNext(ctx context.Context, sig QuerySignature) (Partition, error) {
	s.cache.mu.Lock()
	p, ok := s.cache.partitions[sig.Key()]
	exhausted := ok && p.exhausted
	s.cache.mu.Unlock()
	if exhausted {
		return s.cache.Get(sig), nil
	}

	return s.shared(ctx, sig, func(ctx context.Context) (Partition, error) {
		return s.fetch(ctx, sig, false)
	})
}

// Ensure loads page 0 unless the partition was validated within the dedup
// window. A stale partition is revalidated.
func (s *Synchronizer) Ensure(ctx context.Context, sig QuerySignature) (Partition, error) {
	s.cache.mu.Lock()
	p, ok := s.cache.partitions[sig.Key()]
	fetched := ok && p.fetched()
	fresh := fetched && s.now().Sub(p.lastValidated) < s.dedupWindow
	s.cache.mu.Unlock()

	switch {
	case fresh:
		return s.cache.Get(sig), nil
	case fetched:
		return s.Revalidate(ctx, sig)
	default:
		return s.LoadNext(ctx, sig)
	}
}

// Revalidate refetches page 0 and replaces the partition's pages with it.
// Fetches already in flight for the partition are abandoned; loads requested
// while it runs join it.
func (s *Synchronizer) Revalidate(ctx context.Context, sig QuerySignature) (Partition, error) {
	s.cache.update(sig, true, func(p *partition) bool {
		p.generation++
		return false
	})
	s.group.Forget(sig.Key())

	return s.shared(ctx, sig, func(ctx context.Context) (Partition, error) {
		return s.fetch(ctx, sig, true)
	})
}

type result struct {
	part Partition
}

// shared runs fn at most once at a time per partition. fn runs under a
// context detached from every caller and bounded by the load timeout; each
// caller stops waiting when its own ctx is done.
func (s *Synchronizer) shared(ctx context.Context, sig QuerySignature, fn func(context.Context) (Partition, error)) (Partition, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(sig.Key(), func() (any, error) {
		ctx, cancel := context.WithTimeout(detached, s.loadTimeout)
		defer cancel()
		part, err := fn(ctx)
		return result{part: part}, err
	})

	select {
	case r := <-ch:
		return r.Val.(result).part, r.Err
	case <-ctx.Done():
		return s.cache.Get(sig), ctx.Err()
	}
}

// fetch loads one page and commits it if the partition has not moved on.
// With replace, page 0 is fetched and replaces all pages.
func (s *Synchronizer) fetch(ctx context.Context, sig QuerySignature, replace bool) (Partition, error) {
	var (
		p      *partition
		gen    uint64
		since  uint64
		index  int
		cursor string
		done   bool
	)
	s.cache.update(sig, true, func(cur *partition) bool {
		p, gen, since = cur, cur.generation, cur.insertSeq
		if replace || !cur.fetched() {
			index, cursor = 0, ""
		} else {
			if cur.exhausted {
				done = true
				return false
			}
			index = len(cur.pages)
			cursor = cur.pages[index-1].Cursor
		}
		cur.loading = true
		return true
	})
	if done {
		return s.cache.Get(sig), nil
	}

	page, err := s.list(ctx, sig, p, cursor)

	var (
		snap      Partition
		committed bool
	)
	s.cache.update(sig, false, func(cur *partition) bool {
		if !s.cache.currentLocked(p, gen) {
			// Abandoned: the partition was revalidated, cleared or dropped
			return false
		}
		cur.loading = false
		defer s.cache.dropOrphanLocked(cur)
		if err != nil {
			cur.err = err
			return true
		}
		switch {
		case replace || !cur.fetched():
			// Page 0 supersedes the cached pages, keeping inserts made
			// while it was in flight
			cur.pages = []Page{cur.carryInserts(*page, since)}
			cur.provisional = false
		case len(cur.pages) != index:
			return true
		default:
			cur.pages = append(cur.pages, *page)
		}
		cur.exhausted = page.Cursor == ""
		cur.lastValidated = s.now()
		cur.failures = 0
		cur.err = nil
		snap, committed = cur.snapshot(), true
		return true
	})

	if err != nil {
		return s.cache.Get(sig), err
	}
	if !committed {
		return s.cache.Get(sig), nil
	}
	return snap, nil
}

// list calls the content store, retrying ErrNetwork. The first failures in a
// row are retried at once; after that each retry waits exponentially longer.
func (s *Synchronizer) list(ctx context.Context, sig QuerySignature, p *partition, cursor string) (*Page, error) {
	attempts := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if attempts >= s.maxAttempts {
			return 0, true
		}
		s.cache.mu.Lock()
		failures := p.failures
		s.cache.mu.Unlock()
		return s.backoffFor(failures), false
	})

	var page *Page
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		got, err := s.content.List(ctx, sig.Table, sig.ListParams(cursor))
		if err == nil && got == nil {
			err = fmt.Errorf("%w: empty response", ErrUpstreamUnavailable)
		}
		if err != nil {
			s.cache.mu.Lock()
			p.failures++
			s.cache.mu.Unlock()
			if errors.Is(err, ErrNetwork) {
				return retry.RetryableError(err)
			}
			return err
		}
		page = got
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrNetwork) {
			return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		return nil, err
	}
	return page, nil
}

// backoffFor returns the wait before the next attempt after failures
// consecutive failures.
func (s *Synchronizer) backoffFor(failures int) time.Duration {
	if failures < backoffAfter {
		return 0
	}
	d := s.retryBase << (failures - backoffAfter)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
