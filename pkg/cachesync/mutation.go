package cachesync

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// TempIDPrefix marks ids assigned locally to records not yet confirmed.
const TempIDPrefix = "tmp_"

// Position selects where InsertRecord places a record in the first page.
type Position int

const (
	Prepend Position = iota
	Append
)

// Engine applies optimistic mutations to cached partitions. Mutations are
// visible to subscribers immediately; a failed commit revalidates every
// affected partition instead of undoing the change.
type Engine struct {
	sync *Synchronizer
}

// NewEngine creates an Engine over the Synchronizer's cache.
func NewEngine(s *Synchronizer) *Engine {
	return &Engine{sync: s}
}

// PatchRecord applies updater to the fields of record id in every listed
// partition. updater receives a copy it may modify freely.
func (e *Engine) PatchRecord(sigs []QuerySignature, id string, updater func(fields map[string]any)) *Pending {
	e.patch(sigs, id, updater)
	return e.pending(sigs, id, false)
}

func (e *Engine) patch(sigs []QuerySignature, id string, updater func(fields map[string]any)) {
	for _, sig := range sigs {
		e.sync.cache.update(sig, false, func(p *partition) bool {
			changed := false
			eachRecord(p, id, func(r *Record) {
				next := r.clone()
				updater(next.Fields)
				*r = next
				changed = true
			})
			return changed
		})
	}
}

// InsertRecord adds rec to the partition's first page. A record without an id
// gets a temporary one, replaced by the server id on a successful commit. An
// unfetched partition gets a provisional page that page 0 later replaces. A
// page-0 fetch already in flight when the insert is made keeps the record.
func (e *Engine) InsertRecord(sig QuerySignature, rec Record, pos Position) *Pending {
	rec = rec.clone()
	if rec.ID == "" {
		rec.ID = TempIDPrefix + ulid.Make().String()
	}

	e.sync.cache.update(sig, true, func(p *partition) bool {
		p.insertSeq++
		p.inserts = append(p.inserts, localInsert{id: rec.ID, pos: pos, seq: p.insertSeq})
		if len(p.pages) == 0 {
			p.pages = []Page{{Records: []Record{rec}}}
			p.provisional = true
			return true
		}
		first := &p.pages[0]
		if pos == Append {
			first.Records = append(first.Records, rec)
		} else {
			first.Records = append([]Record{rec}, first.Records...)
		}
		return true
	})
	pending := e.pending([]QuerySignature{sig}, rec.ID, false)
	pending.inserted = true
	return pending
}

// RemoveRecord drops record id from every listed partition.
func (e *Engine) RemoveRecord(sigs []QuerySignature, id string) *Pending {
	for _, sig := range sigs {
		e.sync.cache.update(sig, false, func(p *partition) bool {
			changed := false
			for i := range p.pages {
				kept := p.pages[i].Records[:0]
				for _, r := range p.pages[i].Records {
					if r.ID == id {
						changed = true
						continue
					}
					kept = append(kept, r)
				}
				p.pages[i].Records = kept
			}
			return changed
		})
	}
	return e.pending(sigs, id, true)
}

func (e *Engine) pending(sigs []QuerySignature, id string, removed bool) *Pending {
	return &Pending{
		engine:  e,
		sigs:    append([]QuerySignature(nil), sigs...),
		id:      id,
		removed: removed,
	}
}

// Pending is an applied optimistic mutation awaiting its network call.
type Pending struct {
	engine    *Engine
	sigs      []QuerySignature
	id        string
	removed   bool
	inserted  bool
	committed atomic.Bool
}

// ID returns the id of the mutated record, temporary for unconfirmed inserts.
func (p *Pending) ID() string {
	return p.id
}

// Commit runs call. On success the optimistic state stands and the returned
// record, if any, is merged into the cached copies. On failure every affected
// partition is revalidated and call's error is returned.
func (p *Pending) Commit(ctx context.Context, call func(ctx context.Context) (*Record, error)) error {
	if !p.committed.CompareAndSwap(false, true) {
		return ErrAlreadyCommitted
	}

	rec, err := call(ctx)
	if err != nil {
		p.revert(context.WithoutCancel(ctx))
		return err
	}
	if rec != nil && !p.removed {
		missing := p.reconcile(*rec)
		if p.inserted && len(missing) > 0 {
			// A page-0 fetch that started after the insert replaced it
			// before the server confirmed it
			p.refresh(context.WithoutCancel(ctx), missing, "reconcile")
		}
	}
	return nil
}

func (p *Pending) revert(ctx context.Context) {
	p.refresh(ctx, p.sigs, "revert")
}

func (p *Pending) refresh(ctx context.Context, sigs []QuerySignature, action string) {
	for _, sig := range sigs {
		if _, err := p.engine.sync.Revalidate(ctx, sig); err != nil {
			slog.Warn("revalidate after mutation",
				"component", "cachesync",
				"action", action,
				"table", sig.Table,
				"record_id", p.id,
				"error", err,
			)
		}
	}
}

// reconcile swaps in the server id and fields for the optimistic record. It
// returns the cached partitions that no longer hold the record.
func (p *Pending) reconcile(server Record) (missing []QuerySignature) {
	for _, sig := range p.sigs {
		cached, found := false, false
		p.engine.sync.cache.update(sig, false, func(part *partition) bool {
			cached = true
			if server.ID != "" {
				for i := range part.inserts {
					if part.inserts[i].id == p.id {
						part.inserts[i].id = server.ID
					}
				}
			}
			changed := false
			eachRecord(part, p.id, func(r *Record) {
				next := r.clone()
				if server.ID != "" {
					next.ID = server.ID
				}
				for k, v := range server.Fields {
					next.Fields[k] = v
				}
				*r = next
				changed = true
			})
			found = changed
			return changed
		})
		if cached && !found {
			missing = append(missing, sig)
		}
	}
	if server.ID != "" {
		p.id = server.ID
	}
	return missing
}

// eachRecord calls fn for every cached copy of record id.
func eachRecord(p *partition, id string, fn func(*Record)) {
	for i := range p.pages {
		records := p.pages[i].Records
		for j := range records {
			if records[j].ID == id {
				fn(&records[j])
			}
		}
	}
}
