package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/acp-gateway/internal/broadcast"
	"github.com/kandev/acp-gateway/internal/schema"
)

// EventBufferSize is the minimum per-session ring capacity.
const EventBufferSize = 256

const eventHubCapacity = 512

// Bus is one session's universal-event ring plus broadcast hub. All state
// bumps (sequence, ring append, publish) happen under a single lock
// acquisition so a subscriber's replay-then-live-feed handoff never misses
// or duplicates an event.
type Bus struct {
	mu      sync.Mutex
	hub     *broadcast.Hub[schema.Event]
	ring    []schema.Event
	nextSeq uint64
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{hub: broadcast.NewHub[schema.Event](eventHubCapacity)}
}

// Emit assigns the next sequence number, event id, and timestamp to an
// event built from conv, appends it to the ring, and publishes it to live
// subscribers, all under one lock acquisition.
func (b *Bus) Emit(sessionID string, conv schema.Conversion, source schema.Source) schema.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	ev := schema.Event{
		EventID:         uuid.NewString(),
		Sequence:        b.nextSeq,
		Time:            time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:       sessionID,
		NativeSessionID: conv.NativeSessionID,
		Source:          source,
		Synthetic:       conv.Synthetic,
		Type:            conv.Type,
		Data:            conv.Data,
		Raw:             conv.Raw,
	}

	b.ring = append(b.ring, ev)
	if overflow := len(b.ring) - EventBufferSize; overflow > 0 {
		b.ring = b.ring[overflow:]
	}
	b.hub.Publish(ev)
	return ev
}

// Subscribe returns every buffered event with Sequence > afterSeq plus a live
// subscription for everything published from this point on. The replay
// snapshot and the subscribe happen under the same lock, so no event can
// land in the gap between them.
func (b *Bus) Subscribe(afterSeq uint64) ([]schema.Event, *broadcast.Subscription[schema.Event]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var replay []schema.Event
	for _, ev := range b.ring {
		if ev.Sequence > afterSeq {
			replay = append(replay, ev)
		}
	}
	return replay, b.hub.Subscribe()
}

// Close tears down the hub, dropping every live subscriber.
func (b *Bus) Close() {
	b.hub.CloseAll()
}
