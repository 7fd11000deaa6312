// Package cachesync is the client side of ledgersync: a per-session cache of
// paged list queries, kept in step with a content store, with optimistic
// mutations and a one-time legacy likes migration.
package cachesync

import (
	"sync"
	"time"
)

// partition is the mutable state behind a Partition snapshot.
type partition struct {
	sig           QuerySignature
	pages         []Page
	exhausted     bool
	lastValidated time.Time
	loading       bool
	err           error

	// generation changes whenever pages are replaced wholesale, so a fetch
	// started earlier can tell its result is stale.
	generation uint64
	// failures counts consecutive failed fetch attempts.
	failures int
	// provisional pages hold only optimistic inserts; page 0 is still unfetched.
	provisional bool
	// inserts are optimistic inserts not yet covered by a page-0 fetch that
	// started after them. insertSeq numbers them.
	inserts   []localInsert
	insertSeq uint64
	// orphaned is set when the last subscriber left during a load.
	orphaned bool
}

type localInsert struct {
	id  string
	pos Position
	seq uint64
}

// find returns a copy of the cached record id.
func (p *partition) find(id string) (Record, bool) {
	for _, pg := range p.pages {
		for _, r := range pg.Records {
			if r.ID == id {
				return r.clone(), true
			}
		}
	}
	return Record{}, false
}

// carryInserts returns a page-0 result with the optimistic inserts made after
// the fetch began (seq > since) placed back into it. Inserts the page already
// holds, or that were removed meanwhile, are dropped, as are inserts the fetch
// started after.
func (p *partition) carryInserts(page Page, since uint64) Page {
	onPage := make(map[string]bool, len(page.Records))
	for _, r := range page.Records {
		onPage[r.ID] = true
	}

	var (
		kept       []localInsert
		head, tail []Record
	)
	for _, in := range p.inserts {
		if in.seq <= since || onPage[in.id] {
			continue
		}
		rec, ok := p.find(in.id)
		if !ok {
			continue
		}
		kept = append(kept, in)
		if in.pos == Append {
			tail = append(tail, rec)
		} else {
			head = append([]Record{rec}, head...)
		}
	}
	p.inserts = kept
	if len(head) == 0 && len(tail) == 0 {
		return page
	}

	records := make([]Record, 0, len(head)+len(page.Records)+len(tail))
	records = append(records, head...)
	records = append(records, page.Records...)
	records = append(records, tail...)
	return Page{Records: records, Cursor: page.Cursor}
}

func (p *partition) snapshot() Partition {
	pages := make([]Page, len(p.pages))
	for i, pg := range p.pages {
		records := make([]Record, len(pg.Records))
		for j, r := range pg.Records {
			records[j] = r.clone()
		}
		pages[i] = Page{Records: records, Cursor: pg.Cursor}
	}
	return Partition{
		Signature:     p.sig,
		Pages:         pages,
		Exhausted:     p.exhausted,
		LastValidated: p.lastValidated,
		Loading:       p.loading,
		Err:           p.err,
	}
}

// fetched reports whether page 0 has been loaded from the server.
func (p *partition) fetched() bool {
	return len(p.pages) > 0 && !p.provisional
}

type subscriber struct {
	id uint64
	fn func(Partition)
}

// CacheStore holds the cached partitions for one session. It is shared by a
// Synchronizer and an Engine and is safe for concurrent use. Create one per
// session and Clear it on sign-out.
type CacheStore struct {
	mu         sync.Mutex
	partitions map[string]*partition
	subs       map[string][]subscriber
	nextSub    uint64
}

// NewCacheStore creates an empty CacheStore.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		partitions: make(map[string]*partition),
		subs:       make(map[string][]subscriber),
	}
}

// Get returns a snapshot of the partition for sig, or an empty one.
func (c *CacheStore) Get(sig QuerySignature) Partition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.partitions[sig.Key()]; ok {
		return p.snapshot()
	}
	return Partition{Signature: sig}
}

// Subscribe registers fn to receive a snapshot after every change to the
// partition for sig. The returned function unsubscribes; when the last
// subscriber leaves, the partition is dropped unless a load is in flight.
func (c *CacheStore) Subscribe(sig QuerySignature, fn func(Partition)) (unsubscribe func()) {
	key := sig.Key()

	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[key] = append(c.subs[key], subscriber{id: id, fn: fn})
	if p, ok := c.partitions[key]; ok {
		p.orphaned = false
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(key, id) })
	}
}

func (c *CacheStore) unsubscribe(key string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[key]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) > 0 {
		c.subs[key] = subs
		return
	}
	delete(c.subs, key)
	if p, ok := c.partitions[key]; ok {
		if p.loading {
			p.orphaned = true
		} else {
			delete(c.partitions, key)
		}
	}
}

// dropOrphanLocked removes p if its last subscriber left while it was loading
// and nobody has subscribed since. c.mu must be held.
func (c *CacheStore) dropOrphanLocked(p *partition) {
	key := p.sig.Key()
	if p.orphaned && len(c.subs[key]) == 0 && c.partitions[key] == p {
		delete(c.partitions, key)
	}
}

// Prune drops every partition with no subscribers and no load in flight.
// It returns how many were dropped.
func (c *CacheStore) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, p := range c.partitions {
		if len(c.subs[key]) == 0 && !p.loading {
			delete(c.partitions, key)
			n++
		}
	}
	return n
}

// Clear drops every partition. Subscribers stay registered and are notified
// with empty partitions; in-flight loads discard their results.
func (c *CacheStore) Clear() {
	c.mu.Lock()
	var notes []notification
	for key, p := range c.partitions {
		delete(c.partitions, key)
		notes = append(notes, c.notifyLocked(key, &partition{sig: p.sig})...)
	}
	c.mu.Unlock()
	deliver(notes)
}

// Len returns the number of cached partitions.
func (c *CacheStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.partitions)
}

// partitionLocked returns the partition for sig, creating it. c.mu must be held.
func (c *CacheStore) partitionLocked(sig QuerySignature) *partition {
	key := sig.Key()
	p, ok := c.partitions[key]
	if !ok {
		p = &partition{sig: sig}
		c.partitions[key] = p
	}
	return p
}

// currentLocked reports whether p is still the live partition at generation gen.
func (c *CacheStore) currentLocked(p *partition, gen uint64) bool {
	return c.partitions[p.sig.Key()] == p && p.generation == gen
}

type notification struct {
	fn   func(Partition)
	snap Partition
}

// notifyLocked prepares callbacks for the partition's subscribers. They are
// delivered by deliver after c.mu is released.
func (c *CacheStore) notifyLocked(key string, p *partition) []notification {
	subs := c.subs[key]
	if len(subs) == 0 {
		return nil
	}
	snap := p.snapshot()
	notes := make([]notification, len(subs))
	for i, s := range subs {
		notes[i] = notification{fn: s.fn, snap: snap}
	}
	return notes
}

func deliver(notes []notification) {
	for _, n := range notes {
		n.fn(n.snap)
	}
}

// update runs fn on the partition for sig under the lock and notifies
// subscribers if fn reports a change.
func (c *CacheStore) update(sig QuerySignature, create bool, fn func(p *partition) bool) {
	key := sig.Key()
	c.mu.Lock()
	p, ok := c.partitions[key]
	if !ok {
		if !create {
			c.mu.Unlock()
			return
		}
		p = c.partitionLocked(sig)
	}
	var notes []notification
	if fn(p) {
		notes = c.notifyLocked(key, p)
	}
	c.mu.Unlock()
	deliver(notes)
}
