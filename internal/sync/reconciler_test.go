package sync

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/complaintfeed/internal/bus"
	"github.com/matheus3301/complaintfeed/internal/feed"
)

func makeRows(from, n int) []feed.Row {
	rows := make([]feed.Row, n)
	for i := range rows {
		id := from + i
		rows[i] = feed.Row{
			ID:          fmt.Sprintf("row_%04d", id),
			Status:      feed.StatusPending,
			ReadStatus:  feed.NotViewed,
			SubmittedAt: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC).Add(-time.Duration(id) * time.Hour),
		}
	}
	return rows
}

func ids(rows []feed.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestApplyPageIdempotent(t *testing.T) {
	r := NewReconciler(nil, nil)
	page := makeRows(1, 20)

	r.ApplyPage(page, true)
	once := ids(r.Snapshot())
	r.ApplyPage(page, false)
	twice := ids(r.Snapshot())

	if len(once) != 20 || len(twice) != 20 {
		t.Fatalf("len = %d then %d, want 20", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("order changed at %d: %s vs %s", i, once[i], twice[i])
		}
	}
}

func TestApplyPageAppendSkipsBoundaryOverlap(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage(makeRows(1, 20), true)
	added := r.ApplyPage(makeRows(20, 21), false) // row_0020 overlaps

	if added != 20 {
		t.Errorf("added = %d, want 20", added)
	}
	rows := r.Snapshot()
	if len(rows) != 40 {
		t.Fatalf("len = %d, want 40", len(rows))
	}
	for i, row := range rows {
		if want := fmt.Sprintf("row_%04d", i+1); row.ID != want {
			t.Fatalf("rows[%d] = %s, want %s", i, row.ID, want)
		}
	}
}

func TestApplyPageReplace(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage(makeRows(1, 20), true)
	r.ApplyPage(makeRows(100, 5), true)

	rows := r.Snapshot()
	if len(rows) != 5 || rows[0].ID != "row_0100" {
		t.Errorf("rows = %v", ids(rows))
	}
	if _, ok := r.Row("row_0001"); ok {
		t.Error("replaced row still indexed")
	}
}

func TestOptimisticRollback(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("feed.mutation_", 4)
	defer unsub()

	r := NewReconciler(b, nil)
	r.ApplyPage([]feed.Row{{ID: "C999", Status: feed.StatusPending}}, true)

	m := feed.Mutation{ID: "m1", RowID: "C999", Kind: feed.MutateStatus, Status: feed.StatusResolved}
	if err := r.ApplyOptimistic(m); err != nil {
		t.Fatal(err)
	}
	if row, _ := r.Row("C999"); row.Status != feed.StatusResolved {
		t.Fatalf("optimistic status = %s", row.Status)
	}

	rej := r.Reject("m1", errors.New("409 conflict"))
	if rej == nil || rej.RowID != "C999" {
		t.Fatalf("Reject() = %v", rej)
	}
	if row, _ := r.Row("C999"); row.Status != feed.StatusPending {
		t.Errorf("status after rollback = %s, want pending", row.Status)
	}
	if r.Pending("C999") != 0 {
		t.Error("pending mutation not cleared")
	}

	select {
	case evt := <-events:
		if evt.Kind != bus.KindMutationRejected {
			t.Errorf("event kind = %q", evt.Kind)
		}
		var got *feed.RejectedError
		if err, ok := evt.Payload.(error); !ok || !errors.As(err, &got) {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for rejection event")
	}
}

func TestPageNeverOverwritesPendingField(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage([]feed.Row{{ID: "C1", Status: feed.StatusPending, AdminRemarks: "old"}}, true)

	m := feed.Mutation{ID: "m1", RowID: "C1", Kind: feed.MutateStatus, Status: feed.StatusResolved}
	if err := r.ApplyOptimistic(m); err != nil {
		t.Fatal(err)
	}

	// A refetch lands before the confirmation: the server still says pending
	// but updated the remarks.
	r.ApplyPage([]feed.Row{{ID: "C1", Status: feed.StatusPending, AdminRemarks: "new"}}, true)

	row, _ := r.Row("C1")
	if row.Status != feed.StatusResolved {
		t.Errorf("status = %s, want optimistic resolved", row.Status)
	}
	if row.AdminRemarks != "new" {
		t.Errorf("remarks = %q, want server value", row.AdminRemarks)
	}

	// Rejection rolls back to the newest server-confirmed state.
	r.Reject("m1", errors.New("nope"))
	row, _ = r.Row("C1")
	if row.Status != feed.StatusPending || row.AdminRemarks != "new" {
		t.Errorf("rolled back row = %+v", row)
	}
}

func TestConfirmUsesServerRow(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage([]feed.Row{{ID: "C1", Status: feed.StatusPending}}, true)

	m1 := feed.Mutation{ID: "m1", RowID: "C1", Kind: feed.MutateStatus, Status: feed.StatusInProgress}
	m2 := feed.Mutation{ID: "m2", RowID: "C1", Kind: feed.MutateRemarks, Remarks: "on it"}
	_ = r.ApplyOptimistic(m1)
	_ = r.ApplyOptimistic(m2)

	now := time.Now()
	r.Confirm("m1", &feed.Row{ID: "C1", Status: feed.StatusInProgress, ResolvedAt: &now})
	row, _ := r.Row("C1")
	if row.Status != feed.StatusInProgress || row.AdminRemarks != "on it" || row.ResolvedAt == nil {
		t.Errorf("after first confirm = %+v", row)
	}
	if r.Pending("C1") != 1 {
		t.Errorf("pending = %d, want 1", r.Pending("C1"))
	}

	// Rejecting the second keeps the first, which is now confirmed.
	r.Reject("m2", errors.New("too long"))
	row, _ = r.Row("C1")
	if row.Status != feed.StatusInProgress || row.AdminRemarks != "" {
		t.Errorf("after reject = %+v", row)
	}
}

func TestConfirmWithoutBody(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage([]feed.Row{{ID: "C1", ReadStatus: feed.NotViewed}}, true)
	_ = r.ApplyOptimistic(feed.Mutation{ID: "m1", RowID: "C1", Kind: feed.MutateRead, ReadStatus: feed.Viewed})
	r.Confirm("m1", nil)

	// The confirmed base now includes the change, so a later rejection of
	// another mutation cannot undo it.
	_ = r.ApplyOptimistic(feed.Mutation{ID: "m2", RowID: "C1", Kind: feed.MutateStatus, Status: feed.StatusResolved})
	r.Reject("m2", errors.New("x"))
	if row, _ := r.Row("C1"); row.ReadStatus != feed.Viewed {
		t.Errorf("read status = %s, want viewed", row.ReadStatus)
	}
}

func TestUnknownMutationIgnored(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.Confirm("ghost", nil)
	if rej := r.Reject("ghost", errors.New("x")); rej != nil {
		t.Errorf("Reject(unknown) = %v, want nil", rej)
	}
	err := r.ApplyOptimistic(feed.Mutation{ID: "m1", RowID: "nope", Kind: feed.MutateStatus, Status: feed.StatusResolved})
	if !errors.Is(err, feed.ErrUnknownRow) {
		t.Errorf("ApplyOptimistic(unknown row) = %v", err)
	}
}

func TestResetDropsPendingConfirmations(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage([]feed.Row{{ID: "C1", Status: feed.StatusPending}}, true)
	_ = r.ApplyOptimistic(feed.Mutation{ID: "m1", RowID: "C1", Kind: feed.MutateStatus, Status: feed.StatusResolved})

	r.Reset()
	r.Confirm("m1", &feed.Row{ID: "C1", Status: feed.StatusResolved})
	if r.Len() != 0 {
		t.Errorf("Len() = %d after reset", r.Len())
	}
}

func TestApplyDelta(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage(makeRows(1, 3), true)

	resolved := feed.StatusResolved
	remarks := "done"
	if !r.ApplyDelta(feed.RowDelta{RowID: "row_0002", Status: &resolved, AdminRemarks: &remarks}) {
		t.Fatal("delta for known row not applied")
	}
	row, _ := r.Row("row_0002")
	if row.Status != feed.StatusResolved || row.AdminRemarks != "done" {
		t.Errorf("row = %+v", row)
	}

	if r.ApplyDelta(feed.RowDelta{RowID: "row_9999", Status: &resolved}) {
		t.Error("delta for unknown row should be ignored")
	}

	if !r.ApplyDelta(feed.RowDelta{RowID: "row_0001", Deleted: true}) {
		t.Fatal("delete delta not applied")
	}
	got := ids(r.Snapshot())
	if len(got) != 2 || got[0] != "row_0002" || got[1] != "row_0003" {
		t.Errorf("rows = %v", got)
	}
	if _, ok := r.Row("row_0003"); !ok {
		t.Error("index stale after delete")
	}
}

func TestDeltaKeepsPendingField(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage([]feed.Row{{ID: "C1", Status: feed.StatusPending}}, true)
	_ = r.ApplyOptimistic(feed.Mutation{ID: "m1", RowID: "C1", Kind: feed.MutateStatus, Status: feed.StatusResolved})

	viewed := feed.Viewed
	r.ApplyDelta(feed.RowDelta{RowID: "C1", ReadStatus: &viewed})

	row, _ := r.Row("C1")
	if row.Status != feed.StatusResolved || row.ReadStatus != feed.Viewed {
		t.Errorf("row = %+v", row)
	}
}

func TestUpsertInsertsByRecency(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage(makeRows(1, 4), true)

	searched := makeRows(3, 1)[0]
	searched.ID = "C42"
	searched.SubmittedAt = searched.SubmittedAt.Add(30 * time.Minute)
	r.Upsert(searched)

	got := ids(r.Snapshot())
	want := []string{"row_0001", "row_0002", "C42", "row_0003", "row_0004"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rows = %v, want %v", got, want)
		}
	}

	searched.Status = feed.StatusResolved
	r.Upsert(searched)
	if r.Len() != 5 {
		t.Errorf("upsert of existing row changed length to %d", r.Len())
	}
	if row, _ := r.Row("C42"); row.Status != feed.StatusResolved {
		t.Errorf("existing row not refreshed: %+v", row)
	}
}

func TestRowsChangedFirstIndex(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindRowsChanged, 8)
	defer unsub()

	r := NewReconciler(b, nil)
	r.ApplyPage(makeRows(1, 20), true)
	r.ApplyPage(makeRows(21, 20), false)

	want := []RowsChanged{{First: 0, Len: 20}, {First: 20, Len: 40}}
	for _, w := range want {
		select {
		case evt := <-events:
			if got := evt.Payload.(RowsChanged); got != w {
				t.Errorf("payload = %+v, want %+v", got, w)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for rows_changed")
		}
	}
}

func TestStats(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyStats(feed.Stats{Topic: "hostel", Data: []byte(`{"pending":1}`)})
	s, ok := r.Stats("hostel")
	if !ok || string(s.Data) != `{"pending":1}` {
		t.Errorf("Stats() = %+v, %v", s, ok)
	}
	if _, ok := r.Stats("academic"); ok {
		t.Error("unexpected stats for academic")
	}
}

func TestConfirmedSnapshotHidesPending(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.ApplyPage(makeRows(1, 3), true)
	m := feed.Mutation{ID: "m1", RowID: "row_0002", Kind: feed.MutateStatus, Status: feed.StatusResolved}
	if err := r.ApplyOptimistic(m); err != nil {
		t.Fatal(err)
	}

	confirmed := r.ConfirmedSnapshot()
	if got := ids(confirmed); len(got) != 3 || got[1] != "row_0002" {
		t.Fatalf("confirmed ids = %v", got)
	}
	if confirmed[1].Status != feed.StatusPending {
		t.Errorf("confirmed status = %s, want pending", confirmed[1].Status)
	}
	if row, _ := r.Row("row_0002"); row.Status != feed.StatusResolved {
		t.Errorf("visible status = %s, want resolved", row.Status)
	}

	r.Confirm("m1", nil)
	if got := r.ConfirmedSnapshot()[1].Status; got != feed.StatusResolved {
		t.Errorf("confirmed status after Confirm = %s, want resolved", got)
	}
}
