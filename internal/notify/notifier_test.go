package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/request-queue-system/pkg/models"
)

func receive(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return ChangeEvent{}
	}
}

func TestDeliveryFollowsPublishOrder(t *testing.T) {
	n := New(nil)
	defer n.Close()

	eventID := uuid.New()
	ch, cancel := n.Subscribe(eventID)
	defer cancel()

	for i := 0; i < 50; i++ {
		n.Publish(ChangeEvent{Type: RequestCreated, EventID: eventID, Kind: models.KindKaraoke})
	}

	var last uint64
	for i := 0; i < 50; i++ {
		evt := receive(t, ch)
		if evt.Seq != last+1 {
			t.Fatalf("out of order: got seq %d after %d", evt.Seq, last)
		}
		last = evt.Seq
	}
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	n := New(nil)
	defer n.Close()

	eventID := uuid.New()

	// This subscriber never reads; its buffer fills and overflow is dropped.
	_, cancelSlow := n.Subscribe(eventID)
	defer cancelSlow()

	ch, cancel := n.Subscribe(eventID)
	defer cancel()

	// The healthy subscriber reads as events arrive.
	var mu sync.Mutex
	var seqs []uint64
	go func() {
		for evt := range ch {
			mu.Lock()
			seqs = append(seqs, evt.Seq)
			mu.Unlock()
		}
	}()

	const total = subscriberBuffer + 20
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			n.Publish(ChangeEvent{Type: RequestUpdated, EventID: eventID})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publishing stalled behind a slow subscriber")
	}

	// Give the fan-out worker a moment to finish delivering.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		got := len(seqs)
		mu.Unlock()
		if got >= subscriberBuffer || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) < subscriberBuffer {
		t.Fatalf("healthy subscriber got %d events, want at least %d", len(seqs), subscriberBuffer)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("out of order: seq %d after %d", seqs[i], seqs[i-1])
		}
	}
}

func TestEventsAreIsolatedPerRoom(t *testing.T) {
	n := New(nil)
	defer n.Close()

	e1, e2 := uuid.New(), uuid.New()
	ch1, cancel1 := n.Subscribe(e1)
	defer cancel1()
	ch2, cancel2 := n.Subscribe(e2)
	defer cancel2()

	n.Publish(ChangeEvent{Type: RequestCreated, EventID: e1})
	n.Publish(ChangeEvent{Type: RequestDeleted, EventID: e2})

	if evt := receive(t, ch1); evt.EventID != e1 || evt.Type != RequestCreated {
		t.Fatalf("room 1 got %s for %s", evt.Type, evt.EventID)
	}
	if evt := receive(t, ch2); evt.EventID != e2 || evt.Type != RequestDeleted {
		t.Fatalf("room 2 got %s for %s", evt.Type, evt.EventID)
	}

	select {
	case evt := <-ch1:
		t.Fatalf("room 1 received foreign event %s", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelClosesSubscription(t *testing.T) {
	n := New(nil)
	defer n.Close()

	eventID := uuid.New()
	ch, cancel := n.Subscribe(eventID)
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("cancel must close the channel")
	}
	// Publishing after cancel must not panic or block.
	n.Publish(ChangeEvent{Type: RequestCreated, EventID: eventID})
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingSink) PublishChange(_ context.Context, eventID string, _ interface{}) error {
	s.mu.Lock()
	s.keys = append(s.keys, eventID)
	s.mu.Unlock()
	return nil
}

func TestSinkReceivesEveryChange(t *testing.T) {
	sink := &recordingSink{}
	n := New(sink)

	eventID := uuid.New()
	for i := 0; i < 5; i++ {
		n.Publish(ChangeEvent{Type: RequestCreated, EventID: eventID})
	}
	n.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.keys) != 5 {
		t.Fatalf("sink got %d changes, want 5", len(sink.keys))
	}
	for _, k := range sink.keys {
		if k != eventID.String() {
			t.Fatalf("sink keyed by %s, want %s", k, eventID)
		}
	}
}

func TestOrderedIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	evt := ChangeEvent{Queue: []*models.Request{{ID: a}, {ID: b}}}
	ids := evt.OrderedIDs()
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Fatalf("got %v", ids)
	}
}
