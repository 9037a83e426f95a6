package sync

import (
	"sort"
	gosync "sync"

	"github.com/matheus3301/complaintfeed/internal/bus"
	"github.com/matheus3301/complaintfeed/internal/feed"
	"go.uber.org/zap"
)

// RowsChanged is the payload of bus.KindRowsChanged. Rows at index First and
// after may have moved or changed; Len is the new row count.
type RowsChanged struct {
	First int
	Len   int
}

// MutationAck is the payload of bus.KindMutationAck.
type MutationAck struct {
	MutationID string
	RowID      string
}

// Reconciler owns the feed row list. Page results, optimistic mutations and
// push deltas all go through it; nothing else writes rows.
//
// A row with pending optimistic mutations keeps a confirmed base. Server data
// (pages, deltas, confirmations) updates the base, and the visible row is
// always the base with the pending mutations re-applied in issue order.
type Reconciler struct {
	mu      gosync.Mutex
	rows    []feed.Row
	index   map[string]int
	base    map[string]feed.Row
	pending map[string][]feed.Mutation
	owner   map[string]string
	stats   map[string]feed.Stats

	bus    *bus.Bus
	logger *zap.Logger
}

// NewReconciler creates an empty reconciler.
func NewReconciler(b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		stats:  make(map[string]feed.Stats),
		bus:    b,
		logger: logger,
	}
	r.clear()
	return r
}

func (r *Reconciler) clear() {
	r.rows = nil
	r.index = make(map[string]int)
	r.base = make(map[string]feed.Row)
	r.pending = make(map[string][]feed.Mutation)
	r.owner = make(map[string]string)
}

// Reset empties the row list and forgets pending mutations. Confirmations
// that arrive afterwards are ignored.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.clear()
	r.mu.Unlock()
	r.changed(0, 0)
}

// ApplyPage merges a page. replace discards the current list first; otherwise
// rows already present are skipped, so merging the same page twice is a no-op.
// Returns the number of rows added.
func (r *Reconciler) ApplyPage(rows []feed.Row, replace bool) int {
	r.mu.Lock()

	first := len(r.rows)
	if replace {
		first = 0
		r.rows = nil
		r.index = make(map[string]int)
		pending := r.pending
		r.base = make(map[string]feed.Row)
		r.pending = make(map[string][]feed.Mutation)
		for _, row := range rows {
			if _, dup := r.index[row.ID]; dup {
				continue
			}
			visible := row.Clone()
			if muts, ok := pending[row.ID]; ok {
				r.base[row.ID] = row.Clone()
				r.pending[row.ID] = muts
				visible = applyAll(row, muts)
			}
			r.index[row.ID] = len(r.rows)
			r.rows = append(r.rows, visible)
		}
		// Pending mutations for rows that left the list have nowhere to land.
		for id, muts := range pending {
			if _, ok := r.pending[id]; ok {
				continue
			}
			for _, m := range muts {
				delete(r.owner, m.ID)
			}
		}
	} else {
		for _, row := range rows {
			if _, dup := r.index[row.ID]; dup {
				continue
			}
			r.index[row.ID] = len(r.rows)
			r.rows = append(r.rows, row.Clone())
		}
	}
	added := len(r.rows) - first
	n := len(r.rows)
	r.mu.Unlock()

	if replace || added > 0 {
		r.changed(first, n)
	}
	return added
}

// Upsert inserts a row fetched on its own (search by id) at its recency
// position, or refreshes it as server data if already present.
func (r *Reconciler) Upsert(row feed.Row) {
	r.mu.Lock()
	if i, ok := r.index[row.ID]; ok {
		r.setServerLocked(i, row)
		n := len(r.rows)
		r.mu.Unlock()
		r.changed(i, n)
		return
	}
	i := sort.Search(len(r.rows), func(i int) bool {
		return r.rows[i].SubmittedAt.Before(row.SubmittedAt)
	})
	r.rows = append(r.rows, feed.Row{})
	copy(r.rows[i+1:], r.rows[i:])
	r.rows[i] = row.Clone()
	r.reindexLocked(i)
	n := len(r.rows)
	r.mu.Unlock()
	r.changed(i, n)
}

// ApplyOptimistic shows m immediately. It fails with feed.ErrUnknownRow if
// the row is not in the list.
func (r *Reconciler) ApplyOptimistic(m feed.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	i, ok := r.index[m.RowID]
	if !ok {
		r.mu.Unlock()
		return feed.ErrUnknownRow
	}
	if _, has := r.pending[m.RowID]; !has {
		r.base[m.RowID] = r.rows[i].Clone()
	}
	r.pending[m.RowID] = append(r.pending[m.RowID], m)
	r.owner[m.ID] = m.RowID
	r.rows[i] = m.Apply(r.rows[i])
	n := len(r.rows)
	r.mu.Unlock()

	r.changed(i, n)
	return nil
}

// Confirm settles a mutation. server is the row the backend returned, or nil
// when the confirmation carried no body. Unknown mutation ids are ignored.
func (r *Reconciler) Confirm(mutationID string, server *feed.Row) {
	r.mu.Lock()
	m, ok := r.takeLocked(mutationID)
	if !ok {
		r.mu.Unlock()
		return
	}
	base := r.base[m.RowID]
	if server != nil {
		base = server.Clone()
	} else {
		base = m.Apply(base)
	}
	i := r.settleLocked(m.RowID, base)
	n := len(r.rows)
	r.mu.Unlock()

	r.bus.Emit(bus.KindMutationAck, MutationAck{MutationID: mutationID, RowID: m.RowID})
	if i >= 0 {
		r.changed(i, n)
	}
}

// Reject rolls the row back to its last confirmed state with any other
// pending mutations re-applied, and returns the user-facing error. Unknown
// mutation ids return nil.
func (r *Reconciler) Reject(mutationID string, cause error) *feed.RejectedError {
	r.mu.Lock()
	m, ok := r.takeLocked(mutationID)
	if !ok {
		r.mu.Unlock()
		return nil
	}
	i := r.settleLocked(m.RowID, r.base[m.RowID])
	n := len(r.rows)
	r.mu.Unlock()

	rej := &feed.RejectedError{MutationID: mutationID, RowID: m.RowID, Cause: cause}
	r.logger.Warn("mutation rolled back",
		zap.String("mutation_id", mutationID),
		zap.String("row_id", m.RowID),
		zap.Error(cause),
	)
	r.bus.Emit(bus.KindMutationRejected, rej)
	if i >= 0 {
		r.changed(i, n)
	}
	return rej
}

// ApplyDelta merges a pushed change. Deltas for rows not in the list are
// ignored; they arrive with the next page. Reports whether the list changed.
func (r *Reconciler) ApplyDelta(d feed.RowDelta) bool {
	r.mu.Lock()
	i, ok := r.index[d.RowID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if d.Deleted {
		r.removeLocked(i)
	} else {
		server := r.rows[i]
		if base, has := r.base[d.RowID]; has {
			server = base
		}
		r.setServerLocked(i, d.Apply(server))
	}
	n := len(r.rows)
	r.mu.Unlock()

	r.changed(i, n)
	return true
}

// Remove drops a row, for example after a confirmed delete.
func (r *Reconciler) Remove(rowID string) bool {
	r.mu.Lock()
	i, ok := r.index[rowID]
	if ok {
		r.removeLocked(i)
	}
	n := len(r.rows)
	r.mu.Unlock()

	if ok {
		r.changed(i, n)
	}
	return ok
}

// ApplyStats records the latest statistics for a topic.
func (r *Reconciler) ApplyStats(s feed.Stats) {
	r.mu.Lock()
	r.stats[s.Topic] = s
	r.mu.Unlock()
}

// Stats returns the latest statistics for a topic.
func (r *Reconciler) Stats(topic string) (feed.Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[topic]
	return s, ok
}

// Snapshot returns a copy of the row list.
func (r *Reconciler) Snapshot() []feed.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.Row, len(r.rows))
	for i, row := range r.rows {
		out[i] = row.Clone()
	}
	return out
}

// ConfirmedSnapshot returns the row list as the server last confirmed it:
// rows with pending mutations appear as their confirmed base.
func (r *Reconciler) ConfirmedSnapshot() []feed.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.Row, len(r.rows))
	for i, row := range r.rows {
		if base, ok := r.base[row.ID]; ok {
			row = base
		}
		out[i] = row.Clone()
	}
	return out
}

// Row returns the visible row with the given id.
func (r *Reconciler) Row(id string) (feed.Row, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return feed.Row{}, false
	}
	return r.rows[i].Clone(), true
}

// Len returns the number of rows.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Pending returns the number of unsettled mutations on a row.
func (r *Reconciler) Pending(rowID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[rowID])
}

func (r *Reconciler) changed(first, n int) {
	r.bus.Emit(bus.KindRowsChanged, RowsChanged{First: first, Len: n})
}

// setServerLocked records server state for row i without hiding any pending
// optimistic fields.
func (r *Reconciler) setServerLocked(i int, server feed.Row) {
	id := r.rows[i].ID
	if muts, ok := r.pending[id]; ok {
		r.base[id] = server.Clone()
		r.rows[i] = applyAll(server, muts)
		return
	}
	r.rows[i] = server.Clone()
}

// takeLocked removes a mutation from its row's pending list.
func (r *Reconciler) takeLocked(mutationID string) (feed.Mutation, bool) {
	rowID, ok := r.owner[mutationID]
	if !ok {
		return feed.Mutation{}, false
	}
	delete(r.owner, mutationID)
	muts := r.pending[rowID]
	for j, m := range muts {
		if m.ID == mutationID {
			r.pending[rowID] = append(muts[:j:j], muts[j+1:]...)
			return m, true
		}
	}
	return feed.Mutation{}, false
}

// settleLocked rebuilds the visible row from base and the remaining pending
// mutations. Returns the row index, or -1 if the row is gone.
func (r *Reconciler) settleLocked(rowID string, base feed.Row) int {
	muts := r.pending[rowID]
	if len(muts) == 0 {
		delete(r.pending, rowID)
		delete(r.base, rowID)
	} else {
		r.base[rowID] = base.Clone()
	}
	i, ok := r.index[rowID]
	if !ok {
		return -1
	}
	r.rows[i] = applyAll(base, muts)
	return i
}

func (r *Reconciler) removeLocked(i int) {
	id := r.rows[i].ID
	for _, m := range r.pending[id] {
		delete(r.owner, m.ID)
	}
	delete(r.pending, id)
	delete(r.base, id)
	delete(r.index, id)
	r.rows = append(r.rows[:i], r.rows[i+1:]...)
	r.reindexLocked(i)
}

func (r *Reconciler) reindexLocked(from int) {
	for j := from; j < len(r.rows); j++ {
		r.index[r.rows[j].ID] = j
	}
}

func applyAll(row feed.Row, muts []feed.Mutation) feed.Row {
	out := row.Clone()
	for _, m := range muts {
		out = m.Apply(out)
	}
	return out
}
