// Package outbox dispatches optimistic feed mutations to the backend and
// settles them in the reconciler once the server answers.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/complaintfeed/internal/bus"
	"github.com/matheus3301/complaintfeed/internal/feed"
	feedsync "github.com/matheus3301/complaintfeed/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_mutations_total",
	Help: "Optimistic mutations by final outcome.",
}, []string{"kind", "outcome"})

// ErrQueueFull is returned when the outbox cannot take another mutation.
var ErrQueueFull = errors.New("outbox queue full")

// Updater is the backend surface the sender needs.
type Updater interface {
	UpdateRow(ctx context.Context, category string, m feed.Mutation) (*feed.Row, error)
	DeleteRow(ctx context.Context, category, id string) error
}

// Options tunes retry behaviour for transient failures.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	QueueSize  int
}

type job struct {
	category string
	m        feed.Mutation
}

// Sender applies mutations optimistically and sends them in submission order
// from a single worker. A transient failure is retried with the same
// idempotency key; anything else rolls the row back.
type Sender struct {
	rec    *feedsync.Reconciler
	api    Updater
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
	queue  chan job
	sleep  func(ctx context.Context, d time.Duration) error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(rec *feedsync.Reconciler, api Updater, b *bus.Bus, logger *zap.Logger, opts Options) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Sender{
		rec:    rec,
		api:    api,
		bus:    b,
		logger: logger,
		opts:   opts,
		queue:  make(chan job, opts.QueueSize),
		sleep:  sleepCtx,
	}
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the worker. Mutations still queued are rolled back.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	for {
		select {
		case j := <-s.queue:
			s.rec.Reject(j.m.ID, context.Canceled)
		default:
			return
		}
	}
}

// Submit shows m immediately and queues it for delivery. An empty ID is
// filled with a fresh one. Returns the mutation id.
func (s *Sender) Submit(category string, m feed.Mutation) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := m.Validate(); err != nil {
		return "", err
	}
	if err := s.rec.ApplyOptimistic(m); err != nil {
		return "", fmt.Errorf("apply %s mutation: %w", m.Kind, err)
	}
	select {
	case s.queue <- job{category: category, m: m}:
		return m.ID, nil
	default:
		s.rec.Reject(m.ID, ErrQueueFull)
		return "", ErrQueueFull
	}
}

// Delete removes a row on the server and, once confirmed, from the feed.
func (s *Sender) Delete(ctx context.Context, category, rowID string) error {
	if err := s.api.DeleteRow(ctx, category, rowID); err != nil {
		if errors.Is(err, feed.ErrAuthInvalid) {
			s.bus.Emit(bus.KindAuthInvalid, err)
		}
		return fmt.Errorf("delete %s: %w", rowID, err)
	}
	s.rec.Remove(rowID)
	s.logger.Info("row deleted", zap.String("category", category), zap.String("row_id", rowID))
	return nil
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case j := <-s.queue:
			s.process(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) process(ctx context.Context, j job) {
	m := j.m
	kind := string(m.Kind)
	for attempt := 0; ; attempt++ {
		row, err := s.api.UpdateRow(ctx, j.category, m)
		if err == nil {
			s.rec.Confirm(m.ID, row)
			mutationsTotal.WithLabelValues(kind, "confirmed").Inc()
			s.logger.Info("mutation confirmed",
				zap.String("mutation_id", m.ID),
				zap.String("row_id", m.RowID),
				zap.String("kind", kind),
			)
			return
		}

		retry := feed.IsTransient(err) && attempt < s.opts.MaxRetries && ctx.Err() == nil
		if retry {
			delay := s.opts.RetryDelay << attempt
			s.logger.Warn("mutation failed, retrying",
				zap.String("mutation_id", m.ID),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if s.sleep(ctx, delay) == nil {
				continue
			}
			err = ctx.Err()
		}

		s.rec.Reject(m.ID, err)
		if errors.Is(err, feed.ErrAuthInvalid) {
			mutationsTotal.WithLabelValues(kind, "auth_invalid").Inc()
			s.bus.Emit(bus.KindAuthInvalid, err)
			return
		}
		mutationsTotal.WithLabelValues(kind, "rejected").Inc()
		return
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
