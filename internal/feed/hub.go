// Package feed fans shuffle lifecycle events out to diagnostic
// subscribers. Delivery is best-effort: a subscriber that stops
// draining its channel loses events instead of stalling the fetch path.
package feed

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind labels what happened to an artifact or fetch request.
type Kind string

const (
	KindAnnounced Kind = "announced"
	KindSkipped   Kind = "skipped"
	KindCommitted Kind = "committed"
	KindAborted   Kind = "aborted"
	KindFailed    Kind = "failed"
)

// Event is one lifecycle observation, shaped for JSON delivery on the
// console's websocket.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Origin  string    `json:"origin"`
	Variant string    `json:"variant,omitempty"`
	Bytes   int64     `json:"bytes,omitempty"`
	Worker  int       `json:"worker,omitempty"`
	Err     string    `json:"error,omitempty"`
}

// Hub distributes events to any number of subscribers, each behind its
// own buffered channel. Publish never blocks; events that do not fit a
// subscriber's buffer are counted as dropped for that hub.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	buffer int

	dropped atomic.Uint64
}

// NewHub creates a hub whose subscriber channels buffer the given
// number of events. A non-positive buffer falls back to 16.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a new subscriber and returns its id together with
// the channel events arrive on. The channel is closed by Unsubscribe.
func (h *Hub) Subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are ignored.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
}

// Publish delivers ev to every subscriber that has buffer room and
// stamps the time if the caller left it zero.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
