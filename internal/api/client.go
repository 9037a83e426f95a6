package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/matheus3301/complaintfeed/internal/status"
)

// Client talks to a running daemon's feed API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the API at addr (host:port or URL).
func NewClient(addr string, timeout time.Duration) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(addr, "/"),
	}
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func (c *Client) Feed(ctx context.Context) (*FeedResponse, error) {
	var out FeedResponse
	return &out, c.do(ctx, http.MethodGet, "/v1/feed", nil, &out)
}

func (c *Client) SetCategory(ctx context.Context, category string) (*FeedResponse, error) {
	var out FeedResponse
	return &out, c.do(ctx, http.MethodPut, "/v1/feed/category", categoryRequest{Category: category}, &out)
}

func (c *Client) ApplyFilter(ctx context.Context, fs feed.FilterSet) (*FeedResponse, error) {
	var out FeedResponse
	return &out, c.do(ctx, http.MethodPut, "/v1/feed/filter", fs, &out)
}

func (c *Client) ClearFilters(ctx context.Context) (*FeedResponse, error) {
	var out FeedResponse
	return &out, c.do(ctx, http.MethodDelete, "/v1/feed/filter", nil, &out)
}

func (c *Client) Refresh(ctx context.Context) (*FeedResponse, error) {
	var out FeedResponse
	return &out, c.do(ctx, http.MethodPost, "/v1/feed/refresh", nil, &out)
}

func (c *Client) Retry(ctx context.Context) (*FeedResponse, error) {
	var out FeedResponse
	return &out, c.do(ctx, http.MethodPost, "/v1/feed/retry", nil, &out)
}

// ToggleExpand flips a row and returns its new state and height.
func (c *Client) ToggleExpand(ctx context.Context, id string) (expanded bool, height int, err error) {
	var out expandResponse
	err = c.do(ctx, http.MethodPost, "/v1/rows/"+url.PathEscape(id)+"/expand", nil, &out)
	return out.Expanded, out.Height, err
}

// UpdateRow queues status and/or remarks changes. Returns the mutation ids.
func (c *Client) UpdateRow(ctx context.Context, id string, st *feed.Status, remarks *string) ([]string, error) {
	var out map[string][]string
	err := c.do(ctx, http.MethodPatch, "/v1/rows/"+url.PathEscape(id), updateRequest{Status: st, AdminRemarks: remarks}, &out)
	return out["mutationIds"], err
}

func (c *Client) DeleteRow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/rows/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Search(ctx context.Context, id string) (*feed.Row, error) {
	var out feed.Row
	return &out, c.do(ctx, http.MethodGet, "/v1/rows/"+url.PathEscape(id), nil, &out)
}

func (c *Client) Channels(ctx context.Context) (map[string]status.State, error) {
	var out map[string]status.State
	return out, c.do(ctx, http.MethodGet, "/v1/channels", nil, &out)
}

func (c *Client) Stats(ctx context.Context) (map[string]feed.Stats, error) {
	var out map[string]feed.Stats
	return out, c.do(ctx, http.MethodGet, "/v1/stats", nil, &out)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/logout", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var eb ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &APIError{StatusCode: resp.StatusCode, Code: eb.Error.Code, Message: eb.Error.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
