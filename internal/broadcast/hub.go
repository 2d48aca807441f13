// Package broadcast implements a bounded-capacity, multi-subscriber fan-out
// channel, standing in for the tokio::sync::broadcast channel the adapter
// and session layers are grounded on. A slow subscriber that falls behind is
// dropped rather than allowed to block the producer; callers that need
// gap-free delivery pair this with a replay ring (the adapter's ring, or the
// session Bus, which snapshots its ring under the same lock as the subscribe
// call).
package broadcast

import "sync"

// Hub fans out values of type T to any number of subscribers. Publish never
// blocks the producer: a subscriber whose buffer is full is closed and
// removed instead of backing up the sender.
type Hub[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]chan T
	nextID      uint64
	capacity    int
}

// NewHub creates a Hub whose subscriber channels have the given capacity.
func NewHub[T any](capacity int) *Hub[T] {
	return &Hub[T]{
		subscribers: make(map[uint64]chan T),
		capacity:    capacity,
	}
}

// Subscription is a live subscriber handle.
type Subscription[T any] struct {
	id   uint64
	ch   chan T
	hub  *Hub[T]
}

// C returns the channel to receive published values from. It is closed when
// the subscriber is dropped (either via Unsubscribe or because it lagged).
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Unsubscribe removes this subscriber and closes its channel. Safe to call
// more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.hub.remove(s.id)
}

// Subscribe registers a new subscriber and returns its handle.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, h.capacity)
	h.subscribers[id] = ch
	return &Subscription[T]{id: id, ch: ch, hub: h}
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Publish fans a value out to every current subscriber. A subscriber whose
// buffer is full is dropped (lagged) instead of blocking this call.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- v:
		default:
			delete(h.subscribers, id)
			close(ch)
		}
	}
}

// CloseAll closes every subscriber channel, e.g. on adapter/session shutdown.
func (h *Hub[T]) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

// SubscriberCount reports the current number of live subscribers, for
// diagnostics. The one-SSE-per-connection check in proxy.Runtime.SSE does
// not use it.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
