package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/matheus3301/complaintfeed/internal/feed"
)

func TestClientRoundTrip(t *testing.T) {
	srv, _ := setup(t, 3)
	c := NewClient(srv.URL, 2*time.Second)
	ctx := context.Background()

	resp, err := c.SetCategory(ctx, "hostel")
	if err != nil {
		t.Fatalf("SetCategory() error = %v", err)
	}
	if len(resp.Rows) != 3 {
		t.Fatalf("rows = %d", len(resp.Rows))
	}

	expanded, height, err := c.ToggleExpand(ctx, "C2")
	if err != nil || !expanded || height != 220+180+16 {
		t.Errorf("ToggleExpand() = %v, %d, %v", expanded, height, err)
	}

	resolved := feed.StatusResolved
	ids, err := c.UpdateRow(ctx, "C3", &resolved, nil)
	if err != nil || len(ids) != 1 {
		t.Errorf("UpdateRow() = %v, %v", ids, err)
	}

	resp, err = c.ApplyFilter(ctx, feed.FilterSet{Status: "pending"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Filter.Status != "pending" {
		t.Errorf("filter = %+v", resp.Filter)
	}
	if resp, err = c.ClearFilters(ctx); err != nil || resp.Filter.Status != "" {
		t.Errorf("ClearFilters() = %+v, %v", resp, err)
	}

	if _, err := c.Search(ctx, "C404"); err == nil {
		t.Fatal("Search(missing) should fail")
	} else {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
			t.Errorf("Search(missing) = %v", err)
		}
	}

	states, err := c.Channels(ctx)
	if err != nil || len(states) != 0 {
		t.Errorf("Channels() = %v, %v (pull-only feed)", states, err)
	}
	if err := c.Logout(ctx); err != nil {
		t.Errorf("Logout() error = %v", err)
	}
}

func TestClientHostPort(t *testing.T) {
	c := NewClient("127.0.0.1:8787", time.Second)
	if c.baseURL != "http://127.0.0.1:8787" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}
