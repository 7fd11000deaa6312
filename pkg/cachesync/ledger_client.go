package cachesync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Likes maps a category to the liked record ids, oldest first.
type Likes map[string][]string

// Len returns the total number of ids across categories.
func (l Likes) Len() int {
	n := 0
	for _, ids := range l {
		n += len(ids)
	}
	return n
}

// Contains reports whether id is liked in category.
func (l Likes) Contains(category, id string) bool {
	for _, v := range l[category] {
		if v == id {
			return true
		}
	}
	return false
}

// ToggleResult is the server's answer to a toggle.
type ToggleResult struct {
	Liked bool  `json:"liked"`
	Count int   `json:"count"`
	Likes Likes `json:"likes"`
}

// LikesSnapshot is the ledger as read at Timestamp.
type LikesSnapshot struct {
	Likes     Likes  `json:"likes"`
	Timestamp string `json:"timestamp"`
}

type toggleRequest struct {
	Action   string `json:"action"`
	Table    string `json:"table"`
	RecordID string `json:"recordId"`
}

type mergeRequest struct {
	Action string `json:"action"`
	Likes  Likes  `json:"likes"`
}

type mergeResponse struct {
	OK    bool  `json:"ok"`
	Likes Likes `json:"likes"`
}

// conflictRetries is how many times Toggle retries a 409.
const conflictRetries = 2

// LedgerClient talks to the /likes endpoint of a ledgersync server.
type LedgerClient struct {
	http          httpClient
	conflictDelay time.Duration
}

// NewLedgerClient creates a client for the server at baseURL authenticating
// with token. A nil client selects one with a 30s timeout.
func NewLedgerClient(baseURL, token string, client *http.Client) *LedgerClient {
	return &LedgerClient{
		http:          newHTTPClient(baseURL, token, client),
		conflictDelay: 100 * time.Millisecond,
	}
}

// Get reads the ledger. With fresh, the server bypasses its snapshot cache.
func (c *LedgerClient) Get(ctx context.Context, fresh bool) (*LikesSnapshot, error) {
	path := "/likes"
	if fresh {
		path += "?fresh=true"
	}
	var snap LikesSnapshot
	if err := c.http.doJSON(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	if snap.Likes == nil {
		snap.Likes = Likes{}
	}
	return &snap, nil
}

// Toggle flips the like on recordID. A concurrent-update conflict is retried
// a bounded number of times; the server re-reads fresh state on each try.
func (c *LedgerClient) Toggle(ctx context.Context, table, recordID string) (*ToggleResult, error) {
	body := toggleRequest{Action: "toggle", Table: table, RecordID: recordID}

	var res ToggleResult
	b := retry.WithMaxRetries(conflictRetries, retry.NewConstant(c.conflictDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.http.doJSON(ctx, http.MethodPost, "/likes", body, &res)
		if errors.Is(err, ErrConcurrentUpdate) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Merge unions likes into the ledger and returns the merged ledger. It
// satisfies LikesMerger.
func (c *LedgerClient) Merge(ctx context.Context, likes Likes) (Likes, error) {
	if likes == nil {
		likes = Likes{}
	}
	var res mergeResponse
	if err := c.http.doJSON(ctx, http.MethodPost, "/likes", mergeRequest{Action: "merge", Likes: likes}, &res); err != nil {
		return nil, err
	}
	return res.Likes, nil
}
