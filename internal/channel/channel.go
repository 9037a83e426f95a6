// Package channel maintains one push connection per topic with bounded
// exponential reconnect, heartbeat handling and a polling fallback once the
// reconnect budget is spent.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/matheus3301/complaintfeed/internal/bus"
	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/matheus3301/complaintfeed/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	dialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_channel_dials_total",
		Help: "Push connection attempts by outcome.",
	}, []string{"outcome"})
	heartbeatMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_channel_heartbeat_timeouts_total",
		Help: "Connections dropped because no frame arrived within the heartbeat timeout.",
	})
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_channel_polls_total",
		Help: "Fallback stats polls by outcome.",
	}, []string{"outcome"})
)

var (
	// ErrClosed reports a transport-level close by the server.
	ErrClosed = errors.New("connection closed")
	// ErrHeartbeatTimeout reports that the server went quiet for too long.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

// Envelope is the JSON frame exchanged on the push connection.
type Envelope struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame types.
const (
	TypePing     = "ping"
	TypePong     = "pong"
	TypeStats    = "stats"
	TypeRowDelta = "row_delta"
)

// Handler receives decoded push payloads: feed.Stats or feed.RowDelta.
type Handler func(topic string, payload any)

// Message is the payload of bus.KindChannelMessage. Epoch is the feed scope
// the subscription was opened for, so a consumer can drop pushes that were
// still queued when the scope changed.
type Message struct {
	Topic   string
	Epoch   uint64
	Payload any
}

// BusHandler forwards payloads to the bus as channel messages tagged with
// their topic and epoch, where the sync engine routes them into the reconciler.
func BusHandler(b *bus.Bus, epoch uint64) Handler {
	return func(topic string, payload any) {
		b.Emit(bus.KindChannelMessage, Message{Topic: topic, Epoch: epoch, Payload: payload})
	}
}

// Poller fetches stats when push is unavailable.
type Poller interface {
	FetchStats(ctx context.Context, topic string) (*feed.Stats, error)
}

// Options configures reconnect and heartbeat behaviour.
type Options struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxAttempts      int
	HeartbeatTimeout time.Duration
	PollInterval     time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		MaxAttempts:      5,
		HeartbeatTimeout: 45 * time.Second,
		PollInterval:     30 * time.Second,
	}
}

// Backoff returns min(BaseDelay * 2^attempt, MaxDelay).
func (o Options) Backoff(attempt int) time.Duration {
	d := o.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// Client creates subscriptions sharing one dialer, poller and bus.
type Client struct {
	dialer Dialer
	poller Poller
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
	after  func(time.Duration) <-chan time.Time
}

// NewClient creates a channel client. poller may be nil, in which case a
// failed subscription just waits for Retry.
func NewClient(dialer Dialer, poller Poller, b *bus.Bus, logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	return &Client{
		dialer: dialer,
		poller: poller,
		bus:    b,
		logger: logger,
		opts:   opts,
		after:  time.After,
	}
}

// Subscribe starts a subscription for topic. It connects in the background;
// call Close to tear it down.
func (c *Client) Subscribe(topic string, h Handler) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		topic:   topic,
		client:  c,
		handler: h,
		machine: status.NewMachine(topic, c.bus),
		logger:  c.logger.With(zap.String("topic", topic)),
		retry:   make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Subscription is one topic's connection and its reconnect state.
type Subscription struct {
	topic   string
	client  *Client
	handler Handler
	machine *status.Machine
	logger  *zap.Logger
	retry   chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	mu        gosync.Mutex
	attempt   int
	nextDelay time.Duration
	closed    bool
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// State returns the connection state.
func (s *Subscription) State() status.State { return s.machine.Current() }

// Attempt returns the reconnect attempt counter and the last scheduled delay.
func (s *Subscription) Attempt() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt, s.nextDelay
}

// Retry asks a failed or backing-off subscription to connect now with a
// fresh reconnect budget.
func (s *Subscription) Retry() {
	select {
	case s.retry <- struct{}{}:
	default:
	}
}

// Close tears the subscription down and waits until its handler can no
// longer be called.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	_ = s.machine.Transition(status.Disconnected)
	s.logger.Debug("subscription closed")
}

func (s *Subscription) setAttempt(n int, delay time.Duration) {
	s.mu.Lock()
	s.attempt, s.nextDelay = n, delay
	s.mu.Unlock()
}

func (s *Subscription) transition(to status.State) {
	if err := s.machine.Transition(to); err != nil {
		s.logger.Error("state transition rejected", zap.Error(err))
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	opts := s.client.opts
	attempt := 0

	for {
		s.transition(status.Connecting)
		conn, err := s.client.dialer.Dial(ctx, s.topic)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err == nil {
			dialsTotal.WithLabelValues("connected").Inc()
			attempt = 0
			s.setAttempt(0, 0)
			s.transition(status.Connected)
			s.logger.Info("channel connected")

			err = s.serve(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			s.transition(status.Disconnected)
			s.logger.Warn("channel disconnected", zap.Error(err))
		} else {
			dialsTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("channel dial failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		if errors.Is(err, feed.ErrAuthInvalid) {
			s.client.bus.Emit(bus.KindAuthInvalid, err)
			attempt = opts.MaxAttempts
		}

		if attempt >= opts.MaxAttempts {
			s.transition(status.Failed)
			s.client.bus.Emit(bus.KindChannelFailed, s.topic)
			s.logger.Error("channel failed, falling back to polling", zap.Int("attempts", attempt))
			if !s.degraded(ctx) {
				return
			}
			attempt = 0
			s.setAttempt(0, 0)
			continue
		}

		delay := opts.Backoff(attempt)
		attempt++
		s.setAttempt(attempt, delay)
		s.transition(status.Reconnecting)
		select {
		case <-s.client.after(delay):
		case <-s.retry:
			attempt = 0
			s.setAttempt(0, 0)
		case <-ctx.Done():
			return
		}
	}
}

// serve reads frames until the connection drops or goes quiet.
func (s *Subscription) serve(ctx context.Context, conn Conn) error {
	timeout := s.client.opts.HeartbeatTimeout
	pong, _ := json.Marshal(Envelope{Type: TypePong, Topic: s.topic})

	for {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		data, err := conn.Read(rctx)
		expired := errors.Is(rctx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if expired && ctx.Err() == nil {
				heartbeatMisses.Inc()
				return ErrHeartbeatTimeout
			}
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("malformed frame", zap.Error(err))
			continue
		}
		switch env.Type {
		case TypePing:
			if err := conn.Write(ctx, pong); err != nil {
				return fmt.Errorf("write pong: %w", err)
			}
		case TypeStats:
			s.deliver(feed.Stats{Topic: s.topic, Data: env.Data, ReceivedAt: time.Now()})
		case TypeRowDelta:
			var d feed.RowDelta
			if err := json.Unmarshal(env.Data, &d); err != nil || d.RowID == "" {
				s.logger.Warn("malformed row delta", zap.Error(err))
				continue
			}
			s.deliver(d)
		default:
			s.logger.Debug("ignoring frame", zap.String("type", env.Type))
		}
	}
}

// degraded polls until Retry or teardown. Reports whether to reconnect.
func (s *Subscription) degraded(ctx context.Context) bool {
	poller := s.client.poller
	if poller == nil {
		select {
		case <-s.retry:
			return true
		case <-ctx.Done():
			return false
		}
	}

	s.poll(ctx, poller)
	ticker := time.NewTicker(s.client.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.poll(ctx, poller)
		case <-s.retry:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Subscription) poll(ctx context.Context, poller Poller) {
	stats, err := poller.FetchStats(ctx, s.topic)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		pollsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("stats poll failed", zap.Error(err))
		if errors.Is(err, feed.ErrAuthInvalid) {
			s.client.bus.Emit(bus.KindAuthInvalid, err)
		}
		return
	}
	pollsTotal.WithLabelValues("ok").Inc()
	s.deliver(*stats)
}

func (s *Subscription) deliver(payload any) {
	if s.handler != nil {
		s.handler(s.topic, payload)
	}
}
