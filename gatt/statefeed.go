package gatt

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattsync/internal/ringchan"
)

// stateFeed fans connection-state transitions out to any number of
// subscribers. Each subscriber gets its own bounded ring, so a slow reader is
// conflated to recent transitions instead of blocking the publisher. New
// subscribers are seeded with the most recent transition; history is not
// replayed.
type stateFeed struct {
	subscribers *hashmap.Map[uint64, *ringchan.Ring[StateChange]]
	nextID      atomic.Uint64
	capacity    int
	logger      *logrus.Logger

	// mu orders Publish against Subscribe/unsubscribe so a ring is never
	// sent to after its channel has been closed, and so seeding the latest
	// value cannot race a concurrent Publish.
	mu   sync.RWMutex
	last *StateChange
}

func newStateFeed(capacity int, logger *logrus.Logger) *stateFeed {
	return &stateFeed{
		subscribers: hashmap.New[uint64, *ringchan.Ring[StateChange]](),
		capacity:    capacity,
		logger:      logger,
	}
}

// Publish delivers a transition to every subscriber without blocking.
func (f *stateFeed) Publish(change StateChange) {
	f.mu.Lock()
	defer f.mu.Unlock()

	last := change
	f.last = &last

	f.subscribers.Range(func(id uint64, ring *ringchan.Ring[StateChange]) bool {
		if ring.ForceSend(change) {
			f.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"state":      change.State,
			}).Debug("Slow state subscriber, dropped oldest transition")
		}
		return true
	})
}

// Subscribe registers a new subscriber and returns its channel together with
// an unsubscribe function. Unsubscribing closes the channel and has no effect
// on other subscribers. The channel is seeded with the most recent transition
// when one has been published.
func (f *stateFeed) Subscribe() (<-chan StateChange, func()) {
	f.mu.Lock()
	ring := ringchan.New[StateChange](f.capacity)
	if f.last != nil {
		ring.ForceSend(*f.last)
	}
	id := f.nextID.Add(1)
	f.subscribers.Set(id, ring)
	f.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.subscribers.Del(id)
			ring.Close()
		})
	}
	return ring.C(), unsubscribe
}

// Last returns the most recently published transition, if any.
func (f *stateFeed) Last() (StateChange, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.last == nil {
		return StateChange{}, false
	}
	return *f.last, true
}
