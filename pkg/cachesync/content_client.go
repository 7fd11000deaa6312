package cachesync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// HTTPContentStore is a ContentStore over the record API:
//
//	GET   {base}/tables/{table}/records?pageSize=&filter=&sort=&search=&locale=&cursor=
//	GET   {base}/tables/{table}/records/{id}
//	POST  {base}/tables/{table}/records        {"fields": {...}}
//	PATCH {base}/tables/{table}/records/{id}   {"fields": {...}}
type HTTPContentStore struct {
	http httpClient
}

// NewHTTPContentStore creates a content store client. A nil client selects
// one with a 30s timeout.
func NewHTTPContentStore(baseURL, token string, client *http.Client) *HTTPContentStore {
	return &HTTPContentStore{http: newHTTPClient(baseURL, token, client)}
}

func recordsPath(table string) string {
	return "/tables/" + url.PathEscape(table) + "/records"
}

// List fetches one page.
func (s *HTTPContentStore) List(ctx context.Context, table string, params ListParams) (*Page, error) {
	q := url.Values{}
	for k, v := range params.Extra {
		q.Set(k, v)
	}
	if params.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(params.PageSize))
	}
	if params.Filter != "" {
		q.Set("filter", params.Filter)
	}
	if len(params.Sort) > 0 {
		q.Set("sort", encodeSort(params.Sort))
	}
	if params.Search != "" {
		q.Set("search", params.Search)
	}
	if params.Locale != "" {
		q.Set("locale", params.Locale)
	}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}

	path := recordsPath(table)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page Page
	if err := s.http.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return &page, nil
}

// Get fetches one record.
func (s *HTTPContentStore) Get(ctx context.Context, table, id string) (*Record, error) {
	var rec Record
	path := recordsPath(table) + "/" + url.PathEscape(id)
	if err := s.http.doJSON(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return &rec, nil
}

type fieldsBody struct {
	Fields map[string]any `json:"fields"`
}

// Create stores a new record and returns it with its server id.
func (s *HTTPContentStore) Create(ctx context.Context, table string, fields map[string]any) (*Record, error) {
	var rec Record
	if err := s.http.doJSON(ctx, http.MethodPost, recordsPath(table), fieldsBody{Fields: fields}, &rec); err != nil {
		return nil, fmt.Errorf("create %s: %w", table, err)
	}
	return &rec, nil
}

// Update patches the given fields of a record.
func (s *HTTPContentStore) Update(ctx context.Context, table, id string, fields map[string]any) (*Record, error) {
	var rec Record
	path := recordsPath(table) + "/" + url.PathEscape(id)
	if err := s.http.doJSON(ctx, http.MethodPatch, path, fieldsBody{Fields: fields}, &rec); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	return &rec, nil
}

// encodeSort renders sort specs as "field,-field" in priority order.
func encodeSort(sort []SortField) string {
	parts := make([]string, len(sort))
	for i, f := range sort {
		if f.Desc {
			parts[i] = "-" + f.Field
		} else {
			parts[i] = f.Field
		}
	}
	return strings.Join(parts, ",")
}
