package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matheus3301/complaintfeed/internal/feed"
)

func newTestServer(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL, "tok", 5*time.Second, nil)
}

func TestFetchPageQuery(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/complaints/{category}", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if chi.URLParam(req, "category") != "hostel" {
			t.Errorf("category = %q", chi.URLParam(req, "category"))
		}
		if req.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization = %q", req.Header.Get("Authorization"))
		}
		if q.Get("start") != "2024-01-01" || q.Get("end") != "2024-01-31" {
			t.Errorf("date range = %s..%s", q.Get("start"), q.Get("end"))
		}
		if q.Has("status") {
			t.Error("empty status should be omitted")
		}
		if got := q["scholar"]; len(got) != 2 || got[0] != "21U1" || got[1] != "21U2" {
			t.Errorf("scholar = %v", got)
		}
		if q.Get("limit") != "20" || q.Get("cursor") != "row_0020" {
			t.Errorf("limit/cursor = %s/%s", q.Get("limit"), q.Get("cursor"))
		}
		_ = json.NewEncoder(w).Encode(feed.Page{
			Rows:       []feed.Row{{ID: "row_0021"}, {ID: "row_0022"}},
			NextCursor: "row_0040",
		})
	})
	c := newTestServer(t, r)

	page, err := c.FetchPage(context.Background(), feed.PageRequest{
		Category: "hostel",
		Filter: feed.FilterSet{
			DateRange:      feed.DateRange{Start: "2024-01-01", End: "2024-01-31"},
			ScholarNumbers: []string{"21U2", "21U1"},
		},
		PageSize: 20,
		Cursor:   "row_0020",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Rows) != 2 || page.NextCursor != "row_0040" {
		t.Errorf("page = %+v", page)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code      int
		auth      bool
		transient bool
		notFound  bool
		conflict  bool
	}{
		{http.StatusUnauthorized, true, false, false, false},
		{http.StatusForbidden, true, false, false, false},
		{http.StatusNotFound, false, false, true, false},
		{http.StatusConflict, false, false, false, true},
		{http.StatusUnprocessableEntity, false, false, false, true},
		{http.StatusBadRequest, false, false, false, false},
		{http.StatusTooManyRequests, false, true, false, false},
		{http.StatusServiceUnavailable, false, true, false, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/api/complaints/{category}/{id}", func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.code)
			})
			c := newTestServer(t, r)

			_, err := c.GetRow(context.Background(), "hostel", "C1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, feed.ErrAuthInvalid); got != tt.auth {
				t.Errorf("auth = %v, want %v (%v)", got, tt.auth, err)
			}
			if got := feed.IsTransient(err); got != tt.transient {
				t.Errorf("transient = %v, want %v", got, tt.transient)
			}
			if got := errors.Is(err, feed.ErrNotFound); got != tt.notFound {
				t.Errorf("not found = %v, want %v", got, tt.notFound)
			}
			if got := IsConflict(err); got != tt.conflict {
				t.Errorf("conflict = %v, want %v", got, tt.conflict)
			}
		})
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "", time.Second, nil)
	_, err := c.FetchStats(context.Background(), "hostel")
	if !feed.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestUpdateRowIdempotencyKey(t *testing.T) {
	r := chi.NewRouter()
	r.Patch("/api/complaints/{category}/{id}", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Idempotency-Key") != "m-1" {
			t.Errorf("idempotency key = %q", req.Header.Get("Idempotency-Key"))
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["status"] != "resolved" {
			t.Errorf("body = %v", body)
		}
		if _, ok := body["adminRemarks"]; ok {
			t.Error("status update should not carry remarks")
		}
		_ = json.NewEncoder(w).Encode(feed.Row{ID: chi.URLParam(req, "id"), Status: feed.StatusResolved})
	})
	c := newTestServer(t, r)

	row, err := c.UpdateRow(context.Background(), "hostel", feed.Mutation{
		ID: "m-1", RowID: "C999", Kind: feed.MutateStatus, Status: feed.StatusResolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if row.ID != "C999" || row.Status != feed.StatusResolved {
		t.Errorf("row = %+v", row)
	}
}

func TestDeleteAndStats(t *testing.T) {
	deleted := ""
	r := chi.NewRouter()
	r.Delete("/api/complaints/{category}/{id}", func(w http.ResponseWriter, req *http.Request) {
		deleted = chi.URLParam(req, "id")
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/api/stats/{topic}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"pending":3,"resolved":7}`))
	})
	c := newTestServer(t, r)

	if err := c.DeleteRow(context.Background(), "hostel", "C5"); err != nil {
		t.Fatal(err)
	}
	if deleted != "C5" {
		t.Errorf("deleted = %q", deleted)
	}
	stats, err := c.FetchStats(context.Background(), "hostel")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Topic != "hostel" || string(stats.Data) != `{"pending":3,"resolved":7}` {
		t.Errorf("stats = %+v", stats)
	}
}
