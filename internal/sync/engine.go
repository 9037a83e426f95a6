// Package sync merges page results, optimistic mutations and push events
// into the single feed row list.
package sync

import (
	"context"
	gosync "sync"

	"github.com/matheus3301/complaintfeed/internal/bus"
	"github.com/matheus3301/complaintfeed/internal/channel"
	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var pushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_push_events_total",
	Help: "Push events routed into the reconciler by kind.",
}, []string{"kind"})

// Engine routes push events from the channel client into the Reconciler.
// It subscribes to "channel." events on the bus so the channel never touches
// the row list directly.
//
// Row deltas are applied only when their topic and epoch match the scope set
// with SetScope; deltas from a closed subscription that were still queued on
// the bus are dropped. Stats are keyed by topic and always recorded.
type Engine struct {
	rec     *Reconciler
	bus     *bus.Bus
	logger  *zap.Logger
	bufSize int
	cancel  context.CancelFunc
	done    chan struct{}

	mu         gosync.Mutex
	topic      string
	epoch      uint64
	onOverflow func()
}

// NewEngine creates a new sync engine.
func NewEngine(rec *Reconciler, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rec:     rec,
		bus:     b,
		logger:  logger,
		bufSize: 256,
	}
}

// SetScope selects the topic and epoch whose row deltas are applied. An
// empty topic drops every delta. A delta being applied when SetScope is
// called finishes first.
func (e *Engine) SetScope(topic string, epoch uint64) {
	e.mu.Lock()
	e.topic, e.epoch = topic, epoch
	e.mu.Unlock()
}

// OnOverflow registers fn to run when push events were lost because the
// engine fell behind. fn must not block. Call before Start.
func (e *Engine) OnOverflow(fn func()) {
	e.mu.Lock()
	e.onOverflow = fn
	e.mu.Unlock()
}

// Start subscribes to channel events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, overflow, unsub := e.bus.SubscribeWithOverflow("channel.", e.bufSize)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-overflow:
				e.handleOverflow()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChannelMessage:
		msg, ok := evt.Payload.(channel.Message)
		if !ok {
			e.logger.Warn("unexpected channel event", zap.Any("payload", evt.Payload))
			return
		}
		switch p := msg.Payload.(type) {
		case feed.RowDelta:
			pushEvents.WithLabelValues("row_delta").Inc()
			e.applyDelta(msg, p)
		case feed.Stats:
			pushEvents.WithLabelValues("stats").Inc()
			e.rec.ApplyStats(p)
		default:
			e.logger.Warn("unexpected channel payload", zap.String("topic", msg.Topic), zap.Any("payload", p))
		}
	case bus.KindChannelFailed:
		e.logger.Warn("channel failed, feed continues pull-only", zap.Any("topic", evt.Payload))
	}
}

func (e *Engine) applyDelta(msg channel.Message, d feed.RowDelta) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if msg.Topic != e.topic || msg.Epoch != e.epoch {
		pushEvents.WithLabelValues("stale_delta").Inc()
		e.logger.Debug("delta from previous scope dropped",
			zap.String("topic", msg.Topic),
			zap.Uint64("epoch", msg.Epoch),
			zap.String("row_id", d.RowID),
		)
		return
	}
	if !e.rec.ApplyDelta(d) {
		e.logger.Debug("delta for row not in feed", zap.String("row_id", d.RowID))
	}
}

// handleOverflow reports lost push events so the owner can resync by page.
func (e *Engine) handleOverflow() {
	pushEvents.WithLabelValues("overflow").Inc()
	e.logger.Warn("push events dropped, resyncing from the backend")
	e.mu.Lock()
	fn := e.onOverflow
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}
