package sync

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed is returned when publishing through a closed member.
var ErrBusClosed = errors.New("bus member is closed")

// LocalBus connects coordinators living in one process, e.g. several
// surfaces of a kiosk or the tests. Delivery is synchronous.
type LocalBus struct {
	mu      sync.RWMutex
	members map[*LocalSynchronizer]struct{}
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{members: make(map[*LocalSynchronizer]struct{})}
}

// Join returns a synchronizer for podID attached to the bus.
func (b *LocalBus) Join(podID string) *LocalSynchronizer {
	return &LocalSynchronizer{bus: b, podID: podID}
}

func (b *LocalBus) deliver(event InvalidationEvent) {
	b.mu.RLock()
	members := make([]*LocalSynchronizer, 0, len(b.members))
	for m := range b.members {
		members = append(members, m)
	}
	b.mu.RUnlock()

	for _, m := range members {
		m.receive(event)
	}
}

// LocalSynchronizer is one member of a LocalBus.
type LocalSynchronizer struct {
	bus       *LocalBus
	podID     string
	mu        sync.RWMutex
	callbacks []func(event InvalidationEvent)
	closed    bool
}

// Subscribe attaches the member to the bus.
func (ls *LocalSynchronizer) Subscribe(context.Context) error {
	ls.bus.mu.Lock()
	ls.bus.members[ls] = struct{}{}
	ls.bus.mu.Unlock()
	return nil
}

// Publish delivers event to every other member.
func (ls *LocalSynchronizer) Publish(_ context.Context, event InvalidationEvent) error {
	ls.mu.RLock()
	closed := ls.closed
	ls.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	if event.Sender == "" {
		event.Sender = ls.podID
	}
	ls.bus.deliver(event)
	return nil
}

// OnInvalidate registers a callback for invalidation events.
func (ls *LocalSynchronizer) OnInvalidate(callback func(event InvalidationEvent)) {
	ls.mu.Lock()
	ls.callbacks = append(ls.callbacks, callback)
	ls.mu.Unlock()
}

// Close detaches the member from the bus.
func (ls *LocalSynchronizer) Close() error {
	ls.bus.mu.Lock()
	delete(ls.bus.members, ls)
	ls.bus.mu.Unlock()

	ls.mu.Lock()
	ls.closed = true
	ls.mu.Unlock()
	return nil
}

func (ls *LocalSynchronizer) receive(event InvalidationEvent) {
	if event.Sender == ls.podID {
		return
	}
	ls.mu.RLock()
	callbacks := ls.callbacks
	ls.mu.RUnlock()
	for _, cb := range callbacks {
		cb(event)
	}
}
