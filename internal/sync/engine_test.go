package sync

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/complaintfeed/internal/bus"
	"github.com/matheus3301/complaintfeed/internal/channel"
	"github.com/matheus3301/complaintfeed/internal/feed"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEngineRoutesDeltas(t *testing.T) {
	b := bus.New()
	r := NewReconciler(b, nil)
	r.ApplyPage([]feed.Row{{ID: "C1", Status: feed.StatusPending}}, true)

	e := NewEngine(r, b, nil)
	e.SetScope("hostel", 1)
	e.Start(context.Background())
	defer e.Stop()

	resolved := feed.StatusResolved
	b.Emit(bus.KindChannelMessage, channel.Message{Topic: "hostel", Epoch: 1, Payload: feed.RowDelta{RowID: "C1", Status: &resolved}})

	waitFor(t, func() bool {
		row, _ := r.Row("C1")
		return row.Status == feed.StatusResolved
	})
}

func TestEngineRoutesStats(t *testing.T) {
	b := bus.New()
	r := NewReconciler(b, nil)
	e := NewEngine(r, b, nil)
	e.Start(context.Background())
	defer e.Stop()

	b.Emit(bus.KindChannelMessage, "garbage")
	b.Emit(bus.KindChannelMessage, channel.Message{Topic: "dashboard", Payload: "garbage"})
	b.Emit(bus.KindChannelMessage, channel.Message{Topic: "hostel", Payload: feed.Stats{Topic: "hostel", Data: []byte(`{}`)}})

	waitFor(t, func() bool {
		_, ok := r.Stats("hostel")
		return ok
	})
}

func TestEngineStopUnsubscribes(t *testing.T) {
	b := bus.New()
	e := NewEngine(NewReconciler(b, nil), b, nil)
	e.Start(context.Background())
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", b.Subscribers())
	}
	e.Stop()
	if b.Subscribers() != 0 {
		t.Errorf("subscribers after Stop = %d, want 0", b.Subscribers())
	}
}

func TestEngineDropsDeltasFromPreviousScope(t *testing.T) {
	b := bus.New()
	r := NewReconciler(b, nil)
	e := NewEngine(r, b, nil)
	resolved := feed.StatusResolved
	delta := feed.RowDelta{RowID: "C1", Status: &resolved}

	e.SetScope("hostel", 1)
	// The mess category reuses row id C1.
	e.SetScope("mess", 2)
	r.ApplyPage([]feed.Row{{ID: "C1", Category: "mess", Status: feed.StatusPending}}, true)

	tests := []struct {
		name string
		msg  channel.Message
		want feed.Status
	}{
		{"queued before the switch", channel.Message{Topic: "hostel", Epoch: 1, Payload: delta}, feed.StatusPending},
		{"same topic, older epoch", channel.Message{Topic: "mess", Epoch: 1, Payload: delta}, feed.StatusPending},
		{"current scope", channel.Message{Topic: "mess", Epoch: 2, Payload: delta}, feed.StatusResolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.handleEvent(bus.Event{Kind: bus.KindChannelMessage, Payload: tt.msg})
			row, _ := r.Row("C1")
			if row.Status != tt.want {
				t.Errorf("status = %s, want %s", row.Status, tt.want)
			}
		})
	}
}

func TestEngineClearedScopeDropsDeltas(t *testing.T) {
	b := bus.New()
	r := NewReconciler(b, nil)
	r.ApplyPage([]feed.Row{{ID: "C1", Status: feed.StatusPending}}, true)
	e := NewEngine(r, b, nil)
	e.SetScope("", 3)

	resolved := feed.StatusResolved
	e.handleEvent(bus.Event{Kind: bus.KindChannelMessage, Payload: channel.Message{Epoch: 3, Payload: feed.RowDelta{RowID: "C1", Status: &resolved}}})
	if row, _ := r.Row("C1"); row.Status != feed.StatusPending {
		t.Errorf("status = %s, want pending", row.Status)
	}
}

func TestEngineOverflowTriggersResync(t *testing.T) {
	b := bus.New()
	e := NewEngine(NewReconciler(b, nil), b, nil)
	resynced := make(chan struct{}, 1)
	e.OnOverflow(func() {
		select {
		case resynced <- struct{}{}:
		default:
		}
	})
	e.bufSize = 1
	e.Start(context.Background())
	defer e.Stop()

	// Stalls the loop so the one-slot buffer fills and later events drop.
	e.SetScope("hostel", 1)
	e.mu.Lock()
	for i := 0; i < 4; i++ {
		b.Emit(bus.KindChannelMessage, channel.Message{Topic: "hostel", Epoch: 1, Payload: feed.RowDelta{RowID: "C1"}})
	}
	e.mu.Unlock()

	select {
	case <-resynced:
	case <-time.After(time.Second):
		t.Fatal("overflow did not trigger a resync")
	}
}
