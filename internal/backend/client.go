// Package backend is the HTTP client for the complaint portal REST API.
// It classifies failures into the feed error taxonomy: 401/403 become
// feed.ErrAuthInvalid, 5xx and network failures become *feed.TransientError.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_backend_requests_total",
	Help: "Requests sent to the complaint backend by operation and outcome.",
}, []string{"op", "outcome"})

// StatusError is a non-retryable 4xx answer other than auth failures.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 or 422 answer.
func IsConflict(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusConflict || se.StatusCode == http.StatusUnprocessableEntity
}

// Client talks to the complaint backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

// New creates a client. token is sent as a bearer credential when set.
func New(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger.With(zap.String("component", "backend")),
	}
}

// FetchPage issues one paged fetch.
// GET /api/complaints/{category}
func (c *Client) FetchPage(ctx context.Context, req feed.PageRequest) (*feed.Page, error) {
	q := filterQuery(req.Filter)
	if req.PageSize > 0 {
		q.Set("limit", strconv.Itoa(req.PageSize))
	}
	if req.Cursor != "" {
		q.Set("cursor", string(req.Cursor))
	}
	endpoint := fmt.Sprintf("%s/api/complaints/%s?%s", c.baseURL, url.PathEscape(req.Category), q.Encode())

	var page feed.Page
	if err := c.do(ctx, "fetch page", http.MethodGet, endpoint, nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetRow fetches a single complaint by id.
// GET /api/complaints/{category}/{id}
func (c *Client) GetRow(ctx context.Context, category, id string) (*feed.Row, error) {
	var row feed.Row
	if err := c.do(ctx, "get row", http.MethodGet, c.rowURL(category, id), nil, nil, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

type updateBody struct {
	Status       feed.Status     `json:"status,omitempty"`
	AdminRemarks *string         `json:"adminRemarks,omitempty"`
	ReadStatus   feed.ReadStatus `json:"readStatus,omitempty"`
}

// UpdateRow sends a mutation. The mutation id is the idempotency key, so a
// retried request is applied at most once.
// PATCH /api/complaints/{category}/{id}
func (c *Client) UpdateRow(ctx context.Context, category string, m feed.Mutation) (*feed.Row, error) {
	var body updateBody
	switch m.Kind {
	case feed.MutateStatus:
		body.Status = m.Status
	case feed.MutateRemarks:
		remarks := m.Remarks
		body.AdminRemarks = &remarks
	case feed.MutateRead:
		body.ReadStatus = m.ReadStatus
	}
	headers := map[string]string{"Idempotency-Key": m.ID}

	var row feed.Row
	if err := c.do(ctx, "update row", http.MethodPatch, c.rowURL(category, m.RowID), headers, body, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// DeleteRow removes a complaint.
// DELETE /api/complaints/{category}/{id}
func (c *Client) DeleteRow(ctx context.Context, category, id string) error {
	return c.do(ctx, "delete row", http.MethodDelete, c.rowURL(category, id), nil, nil, nil)
}

// FetchStats pulls the current statistics for a topic.
// GET /api/stats/{topic}
func (c *Client) FetchStats(ctx context.Context, topic string) (*feed.Stats, error) {
	var data json.RawMessage
	endpoint := fmt.Sprintf("%s/api/stats/%s", c.baseURL, url.PathEscape(topic))
	if err := c.do(ctx, "fetch stats", http.MethodGet, endpoint, nil, nil, &data); err != nil {
		return nil, err
	}
	return &feed.Stats{Topic: topic, Data: data, ReceivedAt: time.Now()}, nil
}

func (c *Client) rowURL(category, id string) string {
	return fmt.Sprintf("%s/api/complaints/%s/%s", c.baseURL, url.PathEscape(category), url.PathEscape(id))
}

func filterQuery(f feed.FilterSet) url.Values {
	n := f.Normalize()
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("start", n.DateRange.Start)
	set("end", n.DateRange.End)
	set("type", n.ComplaintType)
	set("status", n.Status)
	set("read", n.ReadStatus)
	set("hostel", n.HostelNumber)
	for _, s := range n.ScholarNumbers {
		q.Add("scholar", s)
	}
	for _, id := range n.ComplaintIDs {
		q.Add("id", id)
	}
	return q
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, headers map[string]string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			requestsTotal.WithLabelValues(op, "canceled").Inc()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		requestsTotal.WithLabelValues(op, "network").Inc()
		return &feed.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := classify(op, resp); err != nil {
		requestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
		c.logger.Debug("backend request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		return err
	}
	requestsTotal.WithLabelValues(op, "ok").Inc()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &feed.TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func classify(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(msg))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, feed.ErrAuthInvalid)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, feed.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &feed.TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(text)}
	default:
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: text}
	}
}
