package layout

import "testing"

func TestExpandToggle(t *testing.T) {
	var toggled []string
	tr := NewExpandTracker(func(id string) { toggled = append(toggled, id) }, nil)

	if tr.IsExpanded("C1") {
		t.Fatal("row should start collapsed")
	}
	if !tr.Toggle("C1", true) {
		t.Error("first toggle should expand")
	}
	if !tr.IsExpanded("C1") {
		t.Error("C1 should be expanded")
	}
	if tr.Toggle("C1", true) {
		t.Error("second toggle should collapse")
	}
	if len(toggled) != 2 || toggled[0] != "C1" || toggled[1] != "C1" {
		t.Errorf("toggle hook calls = %v, want [C1 C1]", toggled)
	}
}

func TestExpandMarksReadOnce(t *testing.T) {
	var marked []string
	tr := NewExpandTracker(nil, func(id string) { marked = append(marked, id) })

	tr.Toggle("C1", false) // expand unread: marks
	tr.Toggle("C1", false) // collapse: no mark
	tr.Toggle("C1", false) // expand again: already marked this session
	tr.Toggle("C2", true)  // already read: no mark

	if len(marked) != 1 || marked[0] != "C1" {
		t.Errorf("mark-read calls = %v, want [C1]", marked)
	}
}

func TestExpandReset(t *testing.T) {
	var marked int
	tr := NewExpandTracker(nil, func(string) { marked++ })
	tr.Toggle("C1", false)
	tr.Reset()

	if tr.IsExpanded("C1") {
		t.Error("Reset should collapse every row")
	}
	tr.Toggle("C1", false)
	if marked != 2 {
		t.Errorf("mark-read calls = %d, want 2 (history cleared by Reset)", marked)
	}
}

func TestExpandForget(t *testing.T) {
	tr := NewExpandTracker(nil, nil)
	tr.Toggle("C1", true)
	tr.Forget("C1")
	if tr.IsExpanded("C1") {
		t.Error("Forget should drop the row")
	}
}
