// Package ringchan provides a bounded channel-like buffer with
// overwrite-oldest semantics. The session uses it as its notification
// queue: producers (transport callbacks) never block, and a slow consumer
// loses the oldest record rather than stalling the radio stack.
package ringchan

// RingChannel wraps a buffered channel and ensures sends never block
// indefinitely: if the buffer is full, the oldest element is discarded.
type RingChannel[T any] struct {
	ch chan T
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can select or
// range over this until it is closed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest when full. It never blocks.
// Returns true if an element was dropped to make room.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			dropped = true
		default:
		}
		rc.ch <- v
	}
	return dropped
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the underlying channel. After this, Send panics.
func (rc *RingChannel[T]) Close() { close(rc.ch) }
