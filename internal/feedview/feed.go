// Package feedview is the upward facade of the feed engine. It composes the
// pager, reconciler, layout and channel subscriptions for the category
// currently in view.
package feedview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/complaintfeed/internal/bus"
	"github.com/matheus3301/complaintfeed/internal/cache"
	"github.com/matheus3301/complaintfeed/internal/channel"
	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/matheus3301/complaintfeed/internal/layout"
	"github.com/matheus3301/complaintfeed/internal/logging"
	"github.com/matheus3301/complaintfeed/internal/outbox"
	"github.com/matheus3301/complaintfeed/internal/pager"
	"github.com/matheus3301/complaintfeed/internal/status"
	feedsync "github.com/matheus3301/complaintfeed/internal/sync"
	"go.uber.org/zap"
)

const noticeTTL = 5 * time.Second

// ErrNoCategory is returned by scope operations before SetCategory.
var ErrNoCategory = errors.New("no category selected")

// Backend is the part of the backend client the feed uses directly.
type Backend interface {
	pager.Fetcher
	outbox.Updater
	GetRow(ctx context.Context, category, id string) (*feed.Row, error)
}

// Options configures a Feed.
type Options struct {
	Role          string
	PageSize      int
	Estimator     layout.Estimator
	Overscan      int
	ViewportWidth int
	// GlobalTopics are subscribed for the lifetime of the feed, independent
	// of the category in view (e.g. dashboard aggregates).
	GlobalTopics []string
	Outbox       outbox.Options
}

// Feed is the engine as seen by presentation code.
type Feed struct {
	backend Backend
	cache   cache.Store
	channel *channel.Client
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	rec    *feedsync.Reconciler
	pager  *pager.Pager
	sender *outbox.Sender
	engine *feedsync.Engine
	list   *layout.List
	expand *layout.ExpandTracker

	scopeMu  sync.Mutex
	category string
	filter   feed.FilterSet

	// epoch tags the category subscriptions; it moves on every category
	// change and on logout so queued pushes from old subscriptions drop.
	epoch  uint64
	subs   []*channel.Subscription
	global []*channel.Subscription

	notice    Notice
	resyncing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loopWG sync.WaitGroup
}

// New builds a feed. cacheStore should already be wrapped in
// cache.Tolerant; ch may be nil to run pull-only.
func New(backend Backend, cacheStore cache.Store, ch *channel.Client, b *bus.Bus, logger *zap.Logger, opts Options) *Feed {
	logger = logging.OrNop(logger)
	if opts.Overscan == 0 {
		opts.Overscan = layout.DefaultOverscan
	}
	if opts.Estimator == (layout.Estimator{}) {
		opts.Estimator = layout.DefaultEstimator()
	}

	f := &Feed{
		backend: backend,
		cache:   cacheStore,
		channel: ch,
		bus:     b,
		logger:  logger,
		opts:    opts,
		ctx:     context.Background(),
	}
	f.rec = feedsync.NewReconciler(b, logger)
	f.pager = pager.New(backend, cacheStore, f.rec, opts.PageSize, logger)
	f.sender = outbox.NewSender(f.rec, backend, b, logger, opts.Outbox)
	f.engine = feedsync.NewEngine(f.rec, b, logger)
	f.engine.OnOverflow(f.resync)
	f.expand = layout.NewExpandTracker(f.onToggle, f.onMarkRead)
	f.list = layout.NewList(opts.Estimator, opts.ViewportWidth, opts.Overscan, f.expand.IsExpanded)
	return f
}

// Start runs the engine, the mutation worker and the event loop.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.ctx = ctx
	f.engine.Start(ctx)
	f.sender.Start(ctx)

	events, unsub := f.bus.Subscribe("", 256)
	f.loopWG.Add(1)
	go func() {
		defer f.loopWG.Done()
		defer unsub()
		for {
			select {
			case evt := <-events:
				f.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	if f.channel != nil {
		f.scopeMu.Lock()
		for _, topic := range f.opts.GlobalTopics {
			f.global = append(f.global, f.channel.Subscribe(topic, channel.BusHandler(f.bus, 0)))
		}
		f.scopeMu.Unlock()
	}
}

// Stop tears down subscriptions and background work.
func (f *Feed) Stop() {
	f.scopeMu.Lock()
	closeAll(f.subs)
	closeAll(f.global)
	f.subs, f.global = nil, nil
	f.scopeMu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	f.engine.Stop()
	f.wg.Wait()
	f.sender.Stop()
	f.loopWG.Wait()
}

// resync refetches the scope from the start after push events were lost.
// At most one resync runs at a time.
func (f *Feed) resync() {
	if f.Category() == "" || !f.resyncing.CompareAndSwap(false, true) {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.resyncing.Store(false)
		if err := f.Refresh(f.ctx); err != nil {
			f.logger.Warn("resync after dropped push events failed", zap.Error(err))
		}
	}()
}

func (f *Feed) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRowsChanged:
		f.syncList()
	case bus.KindMutationRejected:
		if rej, ok := evt.Payload.(*feed.RejectedError); ok {
			f.notice.Set(fmt.Sprintf("Change to %s was not saved: %v", rej.RowID, rej.Cause), noticeTTL)
		}
	case bus.KindAuthInvalid:
		f.notice.Set("Session expired, sign in again", noticeTTL)
	}
}

// SetCategory switches the feed to another category. Subscriptions for the
// old category are closed before the new ones open, the expanded set is
// cleared and the old scope's snapshot is dropped. Filters other than the
// date range do not carry over.
func (f *Feed) SetCategory(ctx context.Context, category string) error {
	f.scopeMu.Lock()
	if category == f.category {
		f.scopeMu.Unlock()
		return nil
	}
	closeAll(f.subs)
	f.subs = nil
	f.epoch++
	f.engine.SetScope(category, f.epoch)
	stale, hadScope := f.pager.Key()
	f.expand.Reset()
	f.category = category
	f.filter = feed.FilterSet{DateRange: f.filter.DateRange}
	f.pager.SetScope(category, f.opts.Role, f.filter)
	if f.channel != nil {
		f.subs = append(f.subs, f.channel.Subscribe(category, channel.BusHandler(f.bus, f.epoch)))
	}
	f.scopeMu.Unlock()

	if hadScope && f.cache != nil {
		if err := f.cache.Invalidate(ctx, &stale); err != nil {
			f.logger.Warn("cache invalidate failed", zap.String("scope", stale.String()), zap.Error(err))
		}
	}

	f.logger.Info("category selected", zap.String("category", category))
	f.syncList()
	return f.load(ctx)
}

// Category returns the category in view.
func (f *Feed) Category() string {
	f.scopeMu.Lock()
	defer f.scopeMu.Unlock()
	return f.category
}

// Filter returns the active filter set.
func (f *Feed) Filter() feed.FilterSet {
	f.scopeMu.Lock()
	defer f.scopeMu.Unlock()
	return f.filter
}

// ApplyFilter switches to a new filter set. An identical set keeps the
// current rows; a different one restarts pagination from the first page and
// any fetch still in flight for the old set is discarded.
func (f *Feed) ApplyFilter(ctx context.Context, fs feed.FilterSet) error {
	f.scopeMu.Lock()
	if f.category == "" {
		f.scopeMu.Unlock()
		return ErrNoCategory
	}
	changed := f.pager.SetScope(f.category, f.opts.Role, fs)
	if changed {
		f.filter = fs.Normalize()
	}
	f.scopeMu.Unlock()

	if !changed {
		return nil
	}
	f.syncList()
	return f.load(ctx)
}

// ClearFilters drops every constraint except the date range and the cached
// snapshot of the current scope.
func (f *Feed) ClearFilters(ctx context.Context) error {
	f.pager.Invalidate(ctx)
	dr := f.Filter().DateRange
	return f.ApplyFilter(ctx, feed.FilterSet{DateRange: dr})
}

// Refresh reloads the current scope from the start.
func (f *Feed) Refresh(ctx context.Context) error {
	err := f.pager.Refresh(ctx)
	f.syncList()
	return f.surface(err)
}

func (f *Feed) load(ctx context.Context) error {
	err := f.pager.LoadFirst(ctx)
	f.syncList()
	return f.surface(err)
}

// surface records err for Err and escalates auth failures.
func (f *Feed) surface(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, feed.ErrAuthInvalid) {
		f.bus.Emit(bus.KindAuthInvalid, err)
	}
	return err
}

// Rows returns the current row list.
func (f *Feed) Rows() []feed.Row {
	return f.rec.Snapshot()
}

// Loading reports whether a page fetch is in flight.
func (f *Feed) Loading() bool {
	return f.pager.Loading()
}

// HasMore reports whether more pages can be fetched.
func (f *Feed) HasMore() bool {
	return f.pager.HasMore()
}

// Err returns the last fetch error, if the latest attempt failed.
func (f *Feed) Err() error {
	return f.pager.LastError()
}

// Notice returns the current user-facing message, if any.
func (f *Feed) Notice() string {
	return f.notice.Get()
}

// HeightOf returns the estimated height of row i.
func (f *Feed) HeightOf(i int) int {
	return f.list.HeightOf(i)
}

// OffsetOf returns the top offset of row i.
func (f *Feed) OffsetOf(i int) int {
	return f.list.OffsetOf(i)
}

// TotalHeight returns the scrollable height of the known rows.
func (f *Feed) TotalHeight() int {
	return f.list.TotalHeight()
}

// SetViewportWidth updates the width and reports whether the layout changed
// globally.
func (f *Feed) SetViewportWidth(width int) bool {
	return f.list.SetViewportWidth(width)
}

// Scroll returns the rows to realize for a viewport and starts a
// continuation fetch in the background when the window nears the end.
// Reports whether a fetch was started.
func (f *Feed) Scroll(scrollTop, viewportHeight int) (first, last int, fetching bool) {
	first, last = f.list.Window(scrollTop, viewportHeight)
	if !f.list.NeedsMore(last, f.pager.Loading(), f.pager.HasMore()) {
		return first, last, false
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		_, err := f.pager.LoadMore(f.ctx)
		f.syncList()
		_ = f.surface(err)
	}()
	return first, last, true
}

// Wait blocks until background continuation fetches finish.
func (f *Feed) Wait() {
	f.wg.Wait()
}

// ToggleExpand flips a row between collapsed and expanded and returns the
// new state. Only that row's height changes.
func (f *Feed) ToggleExpand(rowID string) (bool, error) {
	row, ok := f.rec.Row(rowID)
	if !ok {
		return false, feed.ErrUnknownRow
	}
	return f.expand.Toggle(rowID, row.IsRead()), nil
}

// IsExpanded reports whether a row is expanded.
func (f *Feed) IsExpanded(rowID string) bool {
	return f.expand.IsExpanded(rowID)
}

func (f *Feed) onToggle(rowID string) {
	f.list.Invalidate(rowID)
}

func (f *Feed) onMarkRead(rowID string) {
	f.bus.Emit(bus.KindMarkRead, rowID)
	if _, err := f.submit(feed.Mutation{RowID: rowID, Kind: feed.MutateRead, ReadStatus: feed.Viewed}); err != nil {
		f.logger.Warn("mark read failed", zap.String("row_id", rowID), zap.Error(err))
	}
}

// UpdateStatus changes a row's status optimistically. Returns the mutation id.
func (f *Feed) UpdateStatus(rowID string, s feed.Status) (string, error) {
	return f.submit(feed.Mutation{RowID: rowID, Kind: feed.MutateStatus, Status: s})
}

// UpdateRemarks changes a row's admin remarks optimistically.
func (f *Feed) UpdateRemarks(rowID, remarks string) (string, error) {
	return f.submit(feed.Mutation{RowID: rowID, Kind: feed.MutateRemarks, Remarks: remarks})
}

func (f *Feed) submit(m feed.Mutation) (string, error) {
	return f.sender.Submit(f.Category(), m)
}

// Delete removes a row once the server confirms.
func (f *Feed) Delete(ctx context.Context, rowID string) error {
	if err := f.sender.Delete(ctx, f.Category(), rowID); err != nil {
		return err
	}
	f.expand.Forget(rowID)
	f.syncList()
	return nil
}

// Search fetches a single row by id and merges it into the list.
func (f *Feed) Search(ctx context.Context, id string) (feed.Row, error) {
	row, err := f.backend.GetRow(ctx, f.Category(), id)
	if err != nil {
		return feed.Row{}, f.surface(fmt.Errorf("search %s: %w", id, err))
	}
	f.rec.Upsert(*row)
	f.syncList()
	return *row, nil
}

// Retry re-issues the last failed fetch and reconnects failed channels.
func (f *Feed) Retry(ctx context.Context) error {
	f.scopeMu.Lock()
	for _, s := range append(append([]*channel.Subscription(nil), f.subs...), f.global...) {
		if s.State() == status.Failed {
			s.Retry()
		}
	}
	f.scopeMu.Unlock()

	err := f.pager.Retry(ctx)
	f.syncList()
	return f.surface(err)
}

// Logout tears down the category view and clears every cached scope.
func (f *Feed) Logout(ctx context.Context) error {
	f.scopeMu.Lock()
	closeAll(f.subs)
	f.subs = nil
	f.epoch++
	f.engine.SetScope("", f.epoch)
	f.category = ""
	f.filter = feed.FilterSet{}
	f.pager.Reset()
	f.scopeMu.Unlock()

	f.wg.Wait()
	f.expand.Reset()
	f.syncList()
	var err error
	if f.cache != nil {
		err = f.cache.Invalidate(ctx, nil)
	}
	f.bus.Emit(bus.KindLoggedOut, nil)
	f.logger.Info("logged out, cache cleared")
	return err
}

// ChannelStates returns the connection state of every subscribed topic.
func (f *Feed) ChannelStates() map[string]status.State {
	f.scopeMu.Lock()
	defer f.scopeMu.Unlock()
	out := make(map[string]status.State, len(f.subs)+len(f.global))
	for _, s := range f.global {
		out[s.Topic()] = s.State()
	}
	for _, s := range f.subs {
		out[s.Topic()] = s.State()
	}
	return out
}

// Stats returns the latest statistics of every subscribed topic.
func (f *Feed) Stats() map[string]feed.Stats {
	f.scopeMu.Lock()
	topics := make([]string, 0, len(f.subs)+len(f.global))
	for _, s := range f.global {
		topics = append(topics, s.Topic())
	}
	for _, s := range f.subs {
		topics = append(topics, s.Topic())
	}
	f.scopeMu.Unlock()

	out := make(map[string]feed.Stats, len(topics))
	for _, t := range topics {
		if s, ok := f.rec.Stats(t); ok {
			out[t] = s
		}
	}
	return out
}

// syncList hands the current rows to the layout. Unchanged prefixes keep
// their heights.
func (f *Feed) syncList() {
	rows := f.rec.Snapshot()
	items := make([]layout.Item, len(rows))
	for i, r := range rows {
		items[i] = layout.Item{ID: r.ID, HasAttachments: r.HasAttachments()}
	}
	f.list.SetItems(items)
}

func closeAll(subs []*channel.Subscription) {
	for _, s := range subs {
		s.Close()
	}
}
