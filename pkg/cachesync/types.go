package cachesync

import (
	"context"
	"time"
)

// Record is one content record. Fields are opaque to the cache.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// clone copies the record and its top-level fields.
func (r Record) clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Fields: fields}
}

// Page is one fetched page. An empty Cursor marks the last page.
type Page struct {
	Records []Record `json:"records"`
	Cursor  string   `json:"cursor,omitempty"`
}

// Partition is a read-only snapshot of the cached pages for one signature.
type Partition struct {
	Signature     QuerySignature
	Pages         []Page
	Exhausted     bool
	LastValidated time.Time
	Loading       bool
	// Err is the last load failure, cleared by the next successful load.
	// Pages still hold the last known good data when it is set.
	Err error
}

// Records flattens the pages in fetch order.
func (p Partition) Records() []Record {
	var n int
	for _, pg := range p.Pages {
		n += len(pg.Records)
	}
	out := make([]Record, 0, n)
	for _, pg := range p.Pages {
		out = append(out, pg.Records...)
	}
	return out
}

// ListParams are the paging and query arguments for ContentStore.List.
type ListParams struct {
	PageSize int
	Filter   string
	Sort     []SortField
	Search   string
	Locale   string
	Extra    map[string]string
	Cursor   string
}

// ContentStore is the paged, filterable record API the cache reads from.
type ContentStore interface {
	List(ctx context.Context, table string, params ListParams) (*Page, error)
	Get(ctx context.Context, table, id string) (*Record, error)
	Create(ctx context.Context, table string, fields map[string]any) (*Record, error)
	Update(ctx context.Context, table, id string, fields map[string]any) (*Record, error)
}
