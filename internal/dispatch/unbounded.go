package dispatch

import (
	"context"
	"errors"
	"sync"
)

var ErrStopped = errors.New("dispatcher stopped")

// Unbounded is a FIFO with a non-blocking Put and any number of readers.
type Unbounded[T any] struct {
	mu     sync.Mutex
	buf    []T
	signal chan struct{}
	closed bool
}

func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{signal: make(chan struct{}, 1)}
}

func (u *Unbounded[T]) Put(v T) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrStopped
	}
	u.buf = append(u.buf, v)
	select {
	case u.signal <- struct{}{}:
	default:
	}
	return nil
}

// Get blocks until an item is available, the queue is closed and drained, or
// ctx is done. ok is false in the last two cases.
func (u *Unbounded[T]) Get(ctx context.Context) (v T, ok bool) {
	for {
		u.mu.Lock()
		if len(u.buf) > 0 {
			v = u.buf[0]
			var zero T
			u.buf[0] = zero
			u.buf = u.buf[1:]
			if len(u.buf) > 0 && !u.closed {
				// wake the next reader
				select {
				case u.signal <- struct{}{}:
				default:
				}
			}
			u.mu.Unlock()
			return v, true
		}
		if u.closed {
			u.mu.Unlock()
			return v, false
		}
		u.mu.Unlock()

		select {
		case <-ctx.Done():
			return v, false
		case <-u.signal:
		}
	}
}

func (u *Unbounded[T]) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	u.closed = true
	close(u.signal)
}

func (u *Unbounded[T]) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buf)
}
