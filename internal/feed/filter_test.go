package feed

import (
	"errors"
	"fmt"
	"testing"
)

func TestFilterEqual(t *testing.T) {
	base := FilterSet{DateRange: DateRange{Start: "2024-01-01", End: "2024-01-31"}}
	tests := []struct {
		name string
		a, b FilterSet
		want bool
	}{
		{"identical", base, base, true},
		{"empty vs absent status", base, FilterSet{DateRange: base.DateRange, Status: ""}, true},
		{"nil vs empty set", base, FilterSet{DateRange: base.DateRange, ScholarNumbers: []string{}}, true},
		{"set order ignored",
			FilterSet{ScholarNumbers: []string{"b", "a"}},
			FilterSet{ScholarNumbers: []string{"a", "b", "a"}}, true},
		{"whitespace trimmed", FilterSet{HostelNumber: " H4 "}, FilterSet{HostelNumber: "H4"}, true},
		{"status differs", base, FilterSet{DateRange: base.DateRange, Status: "Resolved"}, false},
		{"range differs", base, FilterSet{DateRange: DateRange{Start: "2024-01-01", End: "2024-02-01"}}, false},
		{"ids differ", FilterSet{ComplaintIDs: []string{"C1"}}, FilterSet{ComplaintIDs: []string{"C2"}}, false},
		{"fields not confused", FilterSet{ComplaintType: "x"}, FilterSet{Status: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			if got := tt.a.Hash() == tt.b.Hash(); got != tt.want {
				t.Errorf("hash equality = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterHashStable(t *testing.T) {
	f := FilterSet{Status: "pending", ScholarNumbers: []string{"21U1", "21U2"}}
	h1 := f.Hash()
	h2 := f.Hash()
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 32 {
		t.Errorf("hash length = %d, want 32 hex chars", len(h1))
	}
}

func TestFilterIsZero(t *testing.T) {
	if !(FilterSet{}).IsZero() {
		t.Error("empty filter should be zero")
	}
	if (FilterSet{ReadStatus: "viewed"}).IsZero() {
		t.Error("filter with read status should not be zero")
	}
}

func TestScopeKeyString(t *testing.T) {
	k := NewScopeKey("hostel", "admin", FilterSet{})
	want := "hostel/admin/" + (FilterSet{}).Hash()
	if k.String() != want {
		t.Errorf("String() = %q, want %q", k.String(), want)
	}
}

func TestMutationApply(t *testing.T) {
	row := Row{ID: "C1", Status: StatusPending, ReadStatus: NotViewed}
	tests := []struct {
		m    Mutation
		want Row
	}{
		{Mutation{Kind: MutateStatus, Status: StatusResolved}, Row{ID: "C1", Status: StatusResolved, ReadStatus: NotViewed}},
		{Mutation{Kind: MutateRemarks, Remarks: "fixed"}, Row{ID: "C1", Status: StatusPending, ReadStatus: NotViewed, AdminRemarks: "fixed"}},
		{Mutation{Kind: MutateRead, ReadStatus: Viewed}, Row{ID: "C1", Status: StatusPending, ReadStatus: Viewed}},
	}
	for _, tt := range tests {
		t.Run(string(tt.m.Kind), func(t *testing.T) {
			got := tt.m.Apply(row)
			if got.Status != tt.want.Status || got.ReadStatus != tt.want.ReadStatus || got.AdminRemarks != tt.want.AdminRemarks {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
	if row.Status != StatusPending {
		t.Error("Apply mutated its input")
	}
}

func TestMutationValidate(t *testing.T) {
	ok := Mutation{ID: "m1", RowID: "C1", Kind: MutateStatus, Status: StatusResolved}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	bad := []Mutation{
		{RowID: "C1", Kind: MutateStatus, Status: StatusResolved},
		{ID: "m1", RowID: "C1", Kind: MutateStatus, Status: "done"},
		{ID: "m1", RowID: "C1", Kind: MutateRead, ReadStatus: "maybe"},
		{ID: "m1", RowID: "C1", Kind: "delete"},
	}
	for i, m := range bad {
		if err := m.Validate(); err == nil {
			t.Errorf("case %d: Validate() should fail for %+v", i, m)
		}
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := fmt.Errorf("conflict")
	rej := &RejectedError{MutationID: "m1", RowID: "C1", Cause: cause}
	if !errors.Is(rej, cause) {
		t.Error("RejectedError should unwrap to its cause")
	}
	wrapped := fmt.Errorf("fetch page: %w", &TransientError{Op: "fetch", StatusCode: 503, Err: errors.New("busy")})
	if !IsTransient(wrapped) {
		t.Error("IsTransient should see through wrapping")
	}
	if IsTransient(ErrAuthInvalid) {
		t.Error("auth errors are not transient")
	}
}
