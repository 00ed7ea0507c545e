package pipeline

import (
	"sync"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// EventType enumerates the kinds of events a run feed carries.
type EventType string

const (
	// EventRun announces the run record itself, sent once at subscription
	// or run creation.
	EventRun EventType = "run"
	// EventLog carries one appended log entry.
	EventLog EventType = "log"
	// EventStatus announces a status transition.
	EventStatus EventType = "status"
)

// Event is one item on a run's live feed.
type Event struct {
	Type   EventType          `json:"type"`
	RunID  string             `json:"run_id"`
	Run    *model.Run         `json:"run,omitempty"`
	Log    *model.RunLogEntry `json:"log,omitempty"`
	Status model.RunStatus    `json:"status,omitempty"`
}

const subscriberBuffer = 64

// EventHub fans a run's events out to subscribers. Publishing never blocks:
// a subscriber that falls more than subscriberBuffer events behind loses
// events. The persisted run log is the authoritative history; a client that
// missed feed events replays it instead.
type EventHub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber is done; it is safe to call more than once.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers, dropping it for any
// subscriber whose buffer is full.
func (h *EventHub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels. Further Publish calls are no-ops and
// further Subscribe calls return an already-closed channel.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
