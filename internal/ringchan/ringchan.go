// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, used where a producer must never block on a slow consumer and
// the consumer only cares about recent values.
package ringchan

// Ring wraps a buffered channel so that sends always succeed: when the
// buffer is full the oldest element is discarded to make room.
//
// Receivers treat C() as a normal Go channel. Senders use Send, TrySend or
// ForceSend depending on how much contention tolerance they need.
type Ring[T any] struct {
	ch chan T
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts an item, discarding the oldest element if the buffer is full.
// May briefly block when racing another sender for the freed slot.
func (r *Ring[T]) Send(v T) {
	select {
	case r.ch <- v:
	default:
		<-r.ch // drop oldest
		r.ch <- v
	}
}

// TrySend attempts a non-blocking insert. Returns false if the buffer is
// full.
func (r *Ring[T]) TrySend(v T) bool {
	select {
	case r.ch <- v:
		return true
	default:
		return false
	}
}

// ForceSend always succeeds immediately and never blocks, discarding the
// oldest element if needed. Returns true when an element was dropped.
func (r *Ring[T]) ForceSend(v T) bool {
	dropped := false

	select {
	case r.ch <- v:
	default:
		select {
		case <-r.ch: // drop oldest
			dropped = true
		default:
		}
		r.ch <- v
	}

	return dropped
}

// TryReceive attempts a non-blocking receive. Returns (zero, false) if no
// value is ready.
func (r *Ring[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the underlying channel. Any Send after Close panics; the
// owner must guarantee senders are done first.
func (r *Ring[T]) Close() {
	close(r.ch)
}
