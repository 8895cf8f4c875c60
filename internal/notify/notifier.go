// Package notify fans committed queue mutations out to everything watching
// an event: websocket rooms, and optionally a broker topic. Each event gets
// its own ordered stream; subscribers of one event always observe changes in
// commit order, and a slow subscriber never blocks the mutation path.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/request-queue-system/pkg/models"
)

type ChangeType string

const (
	RequestCreated ChangeType = "request_created"
	RequestUpdated ChangeType = "request_updated"
	RequestDeleted ChangeType = "request_deleted"
	QueueReordered ChangeType = "queue_reordered"
)

// ChangeEvent carries everything a subscriber needs to update its local view
// without a follow-up fetch: the affected request and, whenever positions
// changed, the full new active order.
type ChangeEvent struct {
	Type      ChangeType         `json:"type"`
	EventID   uuid.UUID          `json:"event_id"`
	Kind      models.RequestKind `json:"kind"`
	Seq       uint64             `json:"seq"`
	Request   *models.Request    `json:"request,omitempty"`
	Queue     []*models.Request  `json:"queue,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// OrderedIDs is the id list of the Queue payload, in order.
func (e ChangeEvent) OrderedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(e.Queue))
	for i, r := range e.Queue {
		ids[i] = r.ID
	}
	return ids
}

// Sink receives every change after in-process delivery, keyed by event id.
// The Kafka client satisfies this.
type Sink interface {
	PublishChange(ctx context.Context, eventID string, payload interface{}) error
}

const (
	roomBuffer       = 256
	subscriberBuffer = 64
)

type subscriber struct {
	ch chan ChangeEvent
}

// room owns one event's ordered stream: a buffered queue drained by a single
// worker goroutine, so delivery order equals publish order.
type room struct {
	eventID uuid.UUID
	queue   chan ChangeEvent
	done    chan struct{}

	mu   sync.Mutex
	subs map[int]*subscriber
	next int
	seq  uint64
}

type Notifier struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*room
	sink  Sink
	wg    sync.WaitGroup
}

func New(sink Sink) *Notifier {
	return &Notifier{
		rooms: make(map[uuid.UUID]*room),
		sink:  sink,
	}
}

func (n *Notifier) room(eventID uuid.UUID) *room {
	n.mu.Lock()
	defer n.mu.Unlock()

	r, ok := n.rooms[eventID]
	if !ok {
		r = &room{
			eventID: eventID,
			queue:   make(chan ChangeEvent, roomBuffer),
			done:    make(chan struct{}),
			subs:    make(map[int]*subscriber),
		}
		n.rooms[eventID] = r
		n.wg.Add(1)
		go n.drain(r)
	}
	return r
}

// Publish enqueues a committed mutation for fan-out. Callers invoke it while
// still holding the event's mutation lock, so the assigned sequence numbers
// follow commit order exactly.
func (n *Notifier) Publish(evt ChangeEvent) {
	r := n.room(evt.EventID)

	r.mu.Lock()
	r.seq++
	evt.Seq = r.seq
	r.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	select {
	case r.queue <- evt:
	default:
		// Fan-out is best effort; dropping beats stalling submissions.
		log.Printf("notify: room %s backlog full, dropping %s seq=%d", evt.EventID, evt.Type, evt.Seq)
	}
}

// Subscribe returns an ordered stream of changes for one event and a cancel
// function. Events that arrive while the subscriber's buffer is full are
// dropped for that subscriber only.
func (n *Notifier) Subscribe(eventID uuid.UUID) (<-chan ChangeEvent, func()) {
	r := n.room(eventID)

	sub := &subscriber{ch: make(chan ChangeEvent, subscriberBuffer)}

	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = sub
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub.ch)
		}
		r.mu.Unlock()
	}
	return sub.ch, cancel
}

func (n *Notifier) drain(r *room) {
	defer n.wg.Done()
	for {
		select {
		case evt := <-r.queue:
			n.deliver(r, evt)
		case <-r.done:
			// Flush what is already queued before exiting.
			for {
				select {
				case evt := <-r.queue:
					n.deliver(r, evt)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(r *room, evt ChangeEvent) {
	r.mu.Lock()
	for _, sub := range r.subs {
		select {
		case sub.ch <- evt:
		default:
			log.Printf("notify: slow subscriber on event %s, dropping %s seq=%d", r.eventID, evt.Type, evt.Seq)
		}
	}
	r.mu.Unlock()

	if n.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.sink.PublishChange(ctx, r.eventID.String(), evt); err != nil {
			log.Printf("notify: sink publish failed for event %s: %v", r.eventID, err)
		}
		cancel()
	}
}

// Close stops all room workers after flushing their queues.
func (n *Notifier) Close() {
	n.mu.Lock()
	for _, r := range n.rooms {
		close(r.done)
	}
	n.rooms = make(map[uuid.UUID]*room)
	n.mu.Unlock()
	n.wg.Wait()
}
