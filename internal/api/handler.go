package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/matheus3301/complaintfeed/internal/feedview"
	"github.com/matheus3301/complaintfeed/internal/logging"
	"github.com/matheus3301/complaintfeed/internal/outbox"
	"github.com/matheus3301/complaintfeed/internal/pager"
	"github.com/matheus3301/complaintfeed/internal/status"
	"go.uber.org/zap"
)

// Feed is the part of feedview.Feed served over HTTP.
type Feed interface {
	Category() string
	Filter() feed.FilterSet
	Rows() []feed.Row
	Loading() bool
	HasMore() bool
	Err() error
	Notice() string
	HeightOf(i int) int
	OffsetOf(i int) int
	TotalHeight() int
	SetCategory(ctx context.Context, category string) error
	ApplyFilter(ctx context.Context, fs feed.FilterSet) error
	ClearFilters(ctx context.Context) error
	Refresh(ctx context.Context) error
	Retry(ctx context.Context) error
	Scroll(scrollTop, viewportHeight int) (first, last int, fetching bool)
	SetViewportWidth(width int) bool
	ToggleExpand(rowID string) (bool, error)
	IsExpanded(rowID string) bool
	UpdateStatus(rowID string, s feed.Status) (string, error)
	UpdateRemarks(rowID, remarks string) (string, error)
	Delete(ctx context.Context, rowID string) error
	Search(ctx context.Context, id string) (feed.Row, error)
	Logout(ctx context.Context) error
	ChannelStates() map[string]status.State
	Stats() map[string]feed.Stats
}

var _ Feed = (*feedview.Feed)(nil)

// Handler implements the feed API endpoints.
type Handler struct {
	feed   Feed
	logger *zap.Logger
}

// NewHandler creates a handler over f.
func NewHandler(f Feed, logger *zap.Logger) *Handler {
	return &Handler{feed: f, logger: logging.OrNop(logger)}
}

// FeedResponse is the body of GET /v1/feed.
type FeedResponse struct {
	Category    string         `json:"category"`
	Filter      feed.FilterSet `json:"filter"`
	Rows        []RowView      `json:"rows"`
	Loading     bool           `json:"loading"`
	HasMore     bool           `json:"hasMore"`
	Error       string         `json:"error,omitempty"`
	Notice      string         `json:"notice,omitempty"`
	TotalHeight int            `json:"totalHeight"`
}

// RowView is a row with its geometry.
type RowView struct {
	feed.Row
	Expanded bool `json:"expanded"`
	Height   int  `json:"height"`
	Offset   int  `json:"offset"`
}

func (h *Handler) GetFeed(w http.ResponseWriter, _ *http.Request) {
	rows := h.feed.Rows()
	resp := FeedResponse{
		Category:    h.feed.Category(),
		Filter:      h.feed.Filter(),
		Rows:        make([]RowView, len(rows)),
		Loading:     h.feed.Loading(),
		HasMore:     h.feed.HasMore(),
		Notice:      h.feed.Notice(),
		TotalHeight: h.feed.TotalHeight(),
	}
	for i, r := range rows {
		resp.Rows[i] = RowView{Row: r, Expanded: h.feed.IsExpanded(r.ID), Height: h.feed.HeightOf(i), Offset: h.feed.OffsetOf(i)}
	}
	if err := h.feed.Err(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type categoryRequest struct {
	Category string `json:"category"`
}

func (h *Handler) SetCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "category is required")
		return
	}
	h.respond(w, h.feed.SetCategory(r.Context(), req.Category))
}

func (h *Handler) ApplyFilter(w http.ResponseWriter, r *http.Request) {
	var fs feed.FilterSet
	if !decode(w, r, &fs) {
		return
	}
	h.respond(w, h.feed.ApplyFilter(r.Context(), fs))
}

func (h *Handler) ClearFilters(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.feed.ClearFilters(r.Context()))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.feed.Refresh(r.Context()))
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.feed.Retry(r.Context()))
}

type scrollRequest struct {
	ScrollTop      int `json:"scrollTop"`
	ViewportHeight int `json:"viewportHeight"`
}

type scrollResponse struct {
	First    int  `json:"first"`
	Last     int  `json:"last"`
	Fetching bool `json:"fetching"`
}

func (h *Handler) Scroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if !decode(w, r, &req) {
		return
	}
	first, last, fetching := h.feed.Scroll(req.ScrollTop, req.ViewportHeight)
	writeJSON(w, http.StatusOK, scrollResponse{First: first, Last: last, Fetching: fetching})
}

type viewportRequest struct {
	Width int `json:"width"`
}

func (h *Handler) SetViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Width <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "width must be positive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"relayout": h.feed.SetViewportWidth(req.Width)})
}

type layoutEntry struct {
	Index  int `json:"index"`
	Height int `json:"height"`
	Offset int `json:"offset"`
}

// Layout returns heights and offsets for rows [from, to).
func (h *Handler) Layout(w http.ResponseWriter, r *http.Request) {
	n := len(h.feed.Rows())
	from, err1 := intParam(r, "from", 0)
	to, err2 := intParam(r, "to", n)
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	from, to = max(from, 0), min(to, n)
	out := make([]layoutEntry, 0, max(to-from, 0))
	for i := from; i < to; i++ {
		out = append(out, layoutEntry{Index: i, Height: h.feed.HeightOf(i), Offset: h.feed.OffsetOf(i)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out, "totalHeight": h.feed.TotalHeight()})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	row, err := h.feed.Search(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

type updateRequest struct {
	Status       *feed.Status `json:"status,omitempty"`
	AdminRemarks *string      `json:"adminRemarks,omitempty"`
}

func (h *Handler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Status == nil && req.AdminRemarks == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "status or adminRemarks is required")
		return
	}
	var ids []string
	if req.Status != nil {
		mid, err := h.feed.UpdateStatus(id, *req.Status)
		if err != nil {
			h.fail(w, err)
			return
		}
		ids = append(ids, mid)
	}
	if req.AdminRemarks != nil {
		mid, err := h.feed.UpdateRemarks(id, *req.AdminRemarks)
		if err != nil {
			h.fail(w, err)
			return
		}
		ids = append(ids, mid)
	}
	writeJSON(w, http.StatusAccepted, map[string][]string{"mutationIds": ids})
}

func (h *Handler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type expandResponse struct {
	Expanded bool `json:"expanded"`
	Height   int  `json:"height"`
}

func (h *Handler) ToggleExpand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	expanded, err := h.feed.ToggleExpand(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := expandResponse{Expanded: expanded}
	for i, row := range h.feed.Rows() {
		if row.ID == id {
			resp.Height = h.feed.HeightOf(i)
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Channels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.feed.ChannelStates())
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.feed.Stats())
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.Logout(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respond writes the feed state after a successful scope operation.
func (h *Handler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	h.GetFeed(w, nil)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	code, status := classify(err)
	if status >= 500 {
		h.logger.Warn("request failed", zap.Error(err))
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (string, int) {
	switch {
	case errors.Is(err, feed.ErrAuthInvalid):
		return "AUTH_INVALID", http.StatusUnauthorized
	case errors.Is(err, feed.ErrUnknownRow), errors.Is(err, feed.ErrNotFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, outbox.ErrQueueFull):
		return "BUSY", http.StatusServiceUnavailable
	case feed.IsTransient(err):
		return "UPSTREAM_UNAVAILABLE", http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELLED", http.StatusGatewayTimeout
	case errors.Is(err, feedview.ErrNoCategory), errors.Is(err, pager.ErrNoScope):
		return "FAILED_PRECONDITION", http.StatusConflict
	case errors.Is(err, feed.ErrInvalid):
		return "INVALID_ARGUMENT", http.StatusBadRequest
	}
	return "INTERNAL", http.StatusInternalServerError
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
