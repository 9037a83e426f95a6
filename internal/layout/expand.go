package layout

import "sync"

// ExpandTracker holds the set of rows shown expanded. It lives for one
// category view and is never persisted.
type ExpandTracker struct {
	mu         sync.Mutex
	expanded   map[string]struct{}
	markedRead map[string]struct{}

	onToggle   func(rowID string)
	onMarkRead func(rowID string)
}

// NewExpandTracker creates a tracker. onToggle is called with the row whose
// height changed; onMarkRead fires the first time an unread row is
// expanded. Either may be nil. Hooks run after the tracker lock is released.
func NewExpandTracker(onToggle, onMarkRead func(rowID string)) *ExpandTracker {
	return &ExpandTracker{
		expanded:   make(map[string]struct{}),
		markedRead: make(map[string]struct{}),
		onToggle:   onToggle,
		onMarkRead: onMarkRead,
	}
}

// Toggle flips rowID and returns the new expanded state. alreadyRead is the
// row's current read status.
func (t *ExpandTracker) Toggle(rowID string, alreadyRead bool) bool {
	t.mu.Lock()
	_, was := t.expanded[rowID]
	if was {
		delete(t.expanded, rowID)
	} else {
		t.expanded[rowID] = struct{}{}
	}
	markRead := false
	if !was && !alreadyRead {
		if _, done := t.markedRead[rowID]; !done {
			t.markedRead[rowID] = struct{}{}
			markRead = true
		}
	}
	t.mu.Unlock()

	if t.onToggle != nil {
		t.onToggle(rowID)
	}
	if markRead && t.onMarkRead != nil {
		t.onMarkRead(rowID)
	}
	return !was
}

// IsExpanded reports whether rowID is expanded.
func (t *ExpandTracker) IsExpanded(rowID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.expanded[rowID]
	return ok
}

// Forget drops rowID, e.g. after it was deleted from the feed.
func (t *ExpandTracker) Forget(rowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.expanded, rowID)
}

// Reset collapses everything and forgets mark-read history. Called on
// category change.
func (t *ExpandTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expanded = make(map[string]struct{})
	t.markedRead = make(map[string]struct{})
}
