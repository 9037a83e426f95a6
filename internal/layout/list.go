package layout

import (
	"sort"
	"sync"
)

// DefaultOverscan is the number of extra rows realized on each side of the
// viewport, and the lookahead that triggers a continuation fetch.
const DefaultOverscan = 3

// Item is the part of a row the list needs for geometry.
type Item struct {
	ID             string
	HasAttachments bool
}

// List is the virtualized list controller. It caches per-row heights and
// cumulative offsets, and recomputes them lazily from the first dirty index.
type List struct {
	mu sync.Mutex

	est      Estimator
	expanded func(rowID string) bool
	width    int
	overscan int

	items   []Item
	index   map[string]int
	heights []int // -1 = needs estimate
	offsets []int // offsets[i] is the top of row i; len(items)+1 entries
	dirty   int   // offsets from this index forward are stale

	// Bookkeeping of the most recent layout pass.
	lastEstimated int
	lastFrom      int
}

// NewList creates a list controller. expanded reports the expansion state
// of a row; nil means every row is collapsed.
func NewList(est Estimator, width, overscan int, expanded func(rowID string) bool) *List {
	if expanded == nil {
		expanded = func(string) bool { return false }
	}
	if overscan < 0 {
		overscan = 0
	}
	return &List{
		est:      est,
		expanded: expanded,
		width:    width,
		overscan: overscan,
		index:    make(map[string]int),
		offsets:  []int{0},
	}
}

// SetItems replaces the known rows. Heights cached for the unchanged prefix
// survive; everything after the first difference is re-laid out.
func (l *List) SetItems(items []Item) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := 0
	for d < len(items) && d < len(l.items) && items[d] == l.items[d] {
		d++
	}

	heights := make([]int, len(items))
	copy(heights, l.heights[:d])
	for i := d; i < len(heights); i++ {
		heights[i] = -1
	}
	offsets := make([]int, len(items)+1)
	copy(offsets, l.offsets[:min(d+1, len(l.offsets))])

	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ID] = i
	}

	l.items = append([]Item(nil), items...)
	l.index = index
	l.heights = heights
	l.offsets = offsets
	l.dirty = min(l.dirty, d)
}

// Invalidate marks one row's height stale. Only that row is re-estimated and
// only offsets below it move. Unknown ids are ignored.
func (l *List) Invalidate(rowID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[rowID]
	if !ok {
		return
	}
	l.heights[i] = -1
	l.dirty = min(l.dirty, i)
}

// SetViewportWidth updates the width. A breakpoint crossing changes every
// row's height and forces a full re-layout; other changes are free.
func (l *List) SetViewportWidth(width int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	crossed := l.est.Wide(width) != l.est.Wide(l.width)
	l.width = width
	if crossed {
		for i := range l.heights {
			l.heights[i] = -1
		}
		l.dirty = 0
	}
	return crossed
}

// Len returns the number of known rows.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// HeightOf returns the height of row i, or 0 when i is out of range.
func (l *List) HeightOf(i int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.items) {
		return 0
	}
	l.layout()
	return l.heights[i]
}

// OffsetOf returns the top offset of row i. i == Len() yields the total height.
func (l *List) OffsetOf(i int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i > len(l.items) {
		return 0
	}
	l.layout()
	return l.offsets[i]
}

// TotalHeight returns the scrollable height of all known rows.
func (l *List) TotalHeight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.layout()
	return l.offsets[len(l.items)]
}

// Window returns the inclusive index range of rows to realize for a
// viewport, widened by the overscan. An empty list returns (0, -1).
func (l *List) Window(scrollTop, viewportHeight int) (first, last int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.items)
	if n == 0 {
		return 0, -1
	}
	l.layout()
	if scrollTop < 0 {
		scrollTop = 0
	}
	bottom := scrollTop + max(viewportHeight, 0)

	first = sort.Search(n, func(i int) bool { return l.offsets[i+1] > scrollTop })
	last = sort.Search(n, func(i int) bool { return l.offsets[i] >= bottom }) - 1
	if first >= n {
		first = n - 1
	}
	if last < first {
		last = first
	}
	return max(0, first-l.overscan), min(n-1, last+l.overscan)
}

// NeedsMore reports whether a continuation fetch should start given the
// last realized index.
func (l *List) NeedsMore(last int, inFlight, hasMore bool) bool {
	if inFlight || !hasMore {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)-1-last <= l.overscan
}

// layout brings heights and offsets up to date. Caller holds mu.
func (l *List) layout() {
	n := len(l.items)
	l.lastFrom = l.dirty
	l.lastEstimated = 0
	if l.dirty >= n {
		l.dirty = n
		return
	}
	for i := l.dirty; i < n; i++ {
		if l.heights[i] < 0 {
			it := l.items[i]
			l.heights[i] = l.est.Estimate(l.expanded(it.ID), l.width, it.HasAttachments)
			l.lastEstimated++
		}
		l.offsets[i+1] = l.offsets[i] + l.heights[i]
	}
	l.dirty = n
}
