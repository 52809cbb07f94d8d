package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/model"
)

// Broadcaster fans immutable snapshot copies out to any number of
// observers without coupling the controller to a rendering layer.
// Publishing never blocks: a subscriber that stops draining its channel
// loses intermediate updates, not the controller's time.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan model.Snapshot
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uuid.UUID]chan model.Snapshot)}
}

// Subscribe registers an observer. The returned id is used to unsubscribe.
func (b *Broadcaster) Subscribe() (uuid.UUID, <-chan model.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.New()
	ch := make(chan model.Snapshot, 16)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers a snapshot copy to every subscriber. Full channels are
// skipped after dropping their oldest entry, so slow observers see the
// newest state instead of stalling on the oldest.
func (b *Broadcaster) Publish(snap model.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		clone := snap.Clone()
		select {
		case ch <- clone:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- clone:
			default:
			}
		}
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
