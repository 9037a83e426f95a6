package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/complaintfeed/internal/bus"
)

// State represents the connection state of one channel subscription.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions. Any state may fall
// back to Disconnected on teardown.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Reconnecting, Failed},
	Connecting:   {Connected, Reconnecting, Failed, Disconnected},
	Connected:    {Disconnected},
	Reconnecting: {Connecting, Failed, Disconnected},
	Failed:       {Connecting, Disconnected},
}

// Machine tracks and enforces the state transitions of one subscription.
type Machine struct {
	mu      sync.RWMutex
	topic   string
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine for topic starting in Disconnected.
func NewMachine(topic string, b *bus.Bus) *Machine {
	return &Machine{
		topic:   topic,
		current: Disconnected,
		bus:     b,
	}
}

// Topic returns the topic this machine tracks.
func (m *Machine) Topic() string {
	return m.topic
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindChannelStatus, StatusChange{
		Topic: m.topic,
		From:  from,
		To:    to,
	})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Topic string
	From  State
	To    State
}
