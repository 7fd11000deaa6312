package cachesync

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultPageSize      = 20
	MaxPageSize          = 100
	DefaultDebounceDelay = 300 * time.Millisecond
)

// SortField orders results by one field. Sort specs apply in slice order.
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// RawQuery is a logical list query as the caller expresses it.
type RawQuery struct {
	Table    string
	PageSize int
	Filter   string
	Sort     []SortField
	Search   string
	Locale   string
	Extra    map[string]string
}

// QuerySignature is the normalized identity of a list query and the cache
// partition key. Build signatures with Build; compare them with Equal.
type QuerySignature struct {
	Table    string            `json:"table"`
	PageSize int               `json:"page_size"`
	Filter   string            `json:"filter,omitempty"`
	Sort     []SortField       `json:"sort,omitempty"`
	Search   string            `json:"search,omitempty"`
	Locale   string            `json:"locale,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Key returns the canonical string form. Equal signatures have equal keys.
func (s QuerySignature) Key() string {
	// encoding/json writes struct fields in declaration order and map keys sorted
	data, err := json.Marshal(s)
	if err != nil {
		// Only strings, ints and bools: cannot fail
		panic(fmt.Sprintf("cachesync: marshal signature: %v", err))
	}
	return string(data)
}

// Equal reports value equality after normalization.
func (s QuerySignature) Equal(other QuerySignature) bool {
	return s.Key() == other.Key()
}

// ListParams returns the content store arguments for the page at cursor.
func (s QuerySignature) ListParams(cursor string) ListParams {
	return ListParams{
		PageSize: s.PageSize,
		Filter:   s.Filter,
		Sort:     append([]SortField(nil), s.Sort...),
		Search:   s.Search,
		Locale:   s.Locale,
		Extra:    s.Extra,
		Cursor:   cursor,
	}
}

// Build normalizes a settled query into a signature. It trims search, filter,
// table and locale, drops blank and repeated sort fields (the first one wins),
// and drops blank extra keys. A zero page size selects DefaultPageSize.
func Build(raw RawQuery) (QuerySignature, error) {
	sig := QuerySignature{
		Table:    strings.TrimSpace(raw.Table),
		PageSize: raw.PageSize,
		Filter:   strings.TrimSpace(raw.Filter),
		Search:   strings.TrimSpace(raw.Search),
		Locale:   strings.TrimSpace(raw.Locale),
	}
	if sig.Table == "" {
		return QuerySignature{}, fmt.Errorf("%w: table is required", ErrValidation)
	}
	if sig.PageSize == 0 {
		sig.PageSize = DefaultPageSize
	}
	if sig.PageSize < 1 || sig.PageSize > MaxPageSize {
		return QuerySignature{}, fmt.Errorf("%w: page size %d outside [1, %d]", ErrValidation, raw.PageSize, MaxPageSize)
	}

	seen := make(map[string]bool, len(raw.Sort))
	for _, f := range raw.Sort {
		name := strings.TrimSpace(f.Field)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		sig.Sort = append(sig.Sort, SortField{Field: name, Desc: f.Desc})
	}

	for k, v := range raw.Extra {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if sig.Extra == nil {
			sig.Extra = make(map[string]string, len(raw.Extra))
		}
		sig.Extra[k] = strings.TrimSpace(v)
	}

	return sig, nil
}

// Stopper cancels a scheduled function. It matches *time.Timer.
type Stopper interface {
	Stop() bool
}

// DebouncerOptions configures a Debouncer. Zero values select defaults.
type DebouncerOptions struct {
	Delay time.Duration // default 300ms
	// AfterFunc schedules f after d. Default wraps time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Stopper
}

// Debouncer turns a stream of raw query edits into settled signatures: one
// per pause of Delay, and only when the settled signature differs from the
// previous one.
type Debouncer struct {
	delay     time.Duration
	afterFunc func(time.Duration, func()) Stopper

	mu      sync.Mutex
	pending RawQuery
	gen     uint64
	timer   Stopper
	last    QuerySignature
	hasLast bool
	lastErr error

	out chan QuerySignature
}

// NewDebouncer creates a Debouncer.
func NewDebouncer(opts DebouncerOptions) *Debouncer {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDebounceDelay
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Stopper {
			return time.AfterFunc(d, f)
		}
	}
	return &Debouncer{
		delay:     opts.Delay,
		afterFunc: opts.AfterFunc,
		out:       make(chan QuerySignature, 1),
	}
}

// Set records the latest raw input and restarts the pause timer.
func (d *Debouncer) Set(raw RawQuery) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = raw
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	gen := d.gen
	d.timer = d.afterFunc(d.delay, func() { d.settle(gen) })
}

// C delivers settled signatures. Only the newest undelivered one is kept.
func (d *Debouncer) C() <-chan QuerySignature {
	return d.out
}

// Settled returns the most recent settled signature, if any.
func (d *Debouncer) Settled() (QuerySignature, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.hasLast
}

// Err returns the validation error of the most recent settled input, if any.
func (d *Debouncer) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Stop cancels any pending settle.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) settle(gen uint64) {
	d.mu.Lock()
	// A later Set superseded this timer
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil

	sig, err := Build(d.pending)
	d.lastErr = err
	if err != nil || (d.hasLast && sig.Equal(d.last)) {
		d.mu.Unlock()
		return
	}
	d.last, d.hasLast = sig, true
	d.mu.Unlock()

	// Replace an undelivered older signature with this one
	for {
		select {
		case d.out <- sig:
			return
		default:
		}
		select {
		case <-d.out:
		default:
		}
	}
}
