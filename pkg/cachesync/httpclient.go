package cachesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// httpClient sends authenticated JSON requests and classifies failures into
// the package's error kinds.
type httpClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newHTTPClient(baseURL, token string, client *http.Client) httpClient {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// problem is the subset of an RFC 7807 body the client reads.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// doJSON sends body (if non-nil) as JSON and decodes a 2xx response into out
// (if non-nil).
func (c httpClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrValidation, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrValidation, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

// statusError classifies a non-2xx response.
func statusError(resp *http.Response) error {
	se := &StatusError{Status: resp.StatusCode}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		se.Kind = ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		se.Kind = ErrConcurrentUpdate
	case resp.StatusCode == http.StatusTooManyRequests:
		se.Kind = ErrRateLimited
		se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusNotFound:
		se.Kind = ErrNotFound
	case resp.StatusCode == http.StatusServiceUnavailable:
		se.Kind = ErrUpstreamUnavailable
		se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		se.Kind = ErrNetwork
	default:
		se.Kind = ErrValidation
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var p problem
	if err := json.Unmarshal(data, &p); err == nil {
		se.Detail = p.Detail
		if se.Detail == "" {
			se.Detail = p.Title
		}
	}
	return se
}

// parseRetryAfter reads the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
