package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_bus_dropped_events_total",
	Help: "Events dropped because a subscriber buffer was full.",
}, []string{"namespace"})

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Publish never blocks: a subscriber that falls behind loses events.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
	overflow  chan struct{}
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			droppedEvents.WithLabelValues(sub.namespace).Inc()
			select {
			case sub.overflow <- struct{}{}:
			default:
			}
		}
	}
}

// Emit publishes an event of the given kind stamped with the current time.
// Safe to call on a nil bus, which drops the event.
func (b *Bus) Emit(kind string, payload any) {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function
// that is safe to call more than once.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch, _, unsub := b.SubscribeWithOverflow(namespace, bufSize)
	return ch, unsub
}

// SubscribeWithOverflow is Subscribe plus a second channel that is signalled
// whenever an event for this subscriber was dropped. Signals coalesce.
func (b *Bus) SubscribeWithOverflow(namespace string, bufSize int) (<-chan Event, <-chan struct{}, func()) {
	ch := make(chan Event, bufSize)
	overflow := make(chan struct{}, 1)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch, overflow: overflow}
	b.mu.Unlock()

	var once sync.Once
	return ch, overflow, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
