//go:build e2e

package e2e

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/hyperengineering/ledgersync/pkg/cachesync"
)

func TestE2E_ToggleParityAndIsolation(t *testing.T) {
	srv := startLedgersync(t)
	ctx := context.Background()
	a := cachesync.NewLedgerClient(srv.baseURL(), tokenA, nil)
	b := cachesync.NewLedgerClient(srv.baseURL(), tokenB, nil)

	for i := 1; i <= 5; i++ {
		res, err := a.Toggle(ctx, "ghazlen", "g1")
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		if res.Liked != (i%2 == 1) {
			t.Errorf("toggle %d: liked = %v", i, res.Liked)
		}
	}

	snapA, err := a.Get(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(snapA.Likes["ghazlen"]); got != 1 {
		t.Errorf("user-a ghazlen = %v, want exactly g1", snapA.Likes["ghazlen"])
	}

	snapB, err := b.Get(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if snapB.Likes.Len() != 0 {
		t.Errorf("user-b ledger = %v, want empty", snapB.Likes)
	}
}

func TestE2E_ConcurrentTogglesAllApplied(t *testing.T) {
	srv := startLedgersync(t, "LEDGER_WRITE_LIMIT=1000")
	ctx := context.Background()
	c := cachesync.NewLedgerClient(srv.baseURL(), tokenA, nil)

	ids := []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := c.Toggle(ctx, "entries", id); err != nil {
				t.Errorf("toggle %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	snap, err := c.Get(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if !snap.Likes.Contains("entries", id) {
			t.Errorf("lost toggle for %s", id)
		}
	}
}

func TestE2E_PersistsAcrossRestart(t *testing.T) {
	srv := startLedgersync(t)
	ctx := context.Background()

	if _, err := cachesync.NewLedgerClient(srv.baseURL(), tokenA, nil).
		Merge(ctx, cachesync.Likes{"rubai": {"r1", "r2"}}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	srv = srv.restart(t)
	snap, err := cachesync.NewLedgerClient(srv.baseURL(), tokenA, nil).Get(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Likes.Contains("rubai", "r1") || !snap.Likes.Contains("rubai", "r2") {
		t.Errorf("ledger after restart = %v", snap.Likes)
	}
}

func TestE2E_RateLimited(t *testing.T) {
	srv := startLedgersync(t, "LEDGER_READ_LIMIT=2", "LEDGER_RATE_WINDOW=1m")
	ctx := context.Background()
	c := cachesync.NewLedgerClient(srv.baseURL(), tokenA, nil)

	for i := 0; i < 2; i++ {
		if _, err := c.Get(ctx, false); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	_, err := c.Get(ctx, false)
	if !errors.Is(err, cachesync.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if d, ok := cachesync.RetryAfter(err); !ok || d <= 0 {
		t.Errorf("RetryAfter = %v, %v", d, ok)
	}
}

func TestE2E_CORSAndRequestID(t *testing.T) {
	srv := startLedgersync(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.baseURL()+"/likes", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
}
