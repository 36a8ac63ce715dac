package venue

import (
	"context"
	"sync"
)

// ownerLocks serializes synchronization runs per owner within the process.
// Waiters queue on a one-slot channel so they can give up when ctx ends.
type ownerLocks struct {
	mu    sync.Mutex
	slots map[string]*ownerSlot
}

type ownerSlot struct {
	sem  chan struct{}
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{slots: make(map[string]*ownerSlot)}
}

func (l *ownerLocks) acquire(ctx context.Context, ownerID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[ownerID]
	if !ok {
		slot = &ownerSlot{sem: make(chan struct{}, 1)}
		l.slots[ownerID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(ownerID, slot, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(ownerID, slot, true) })
	}, nil
}

func (l *ownerLocks) release(ownerID string, slot *ownerSlot, held bool) {
	if held {
		<-slot.sem
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, ownerID)
	}
}
