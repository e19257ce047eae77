package outbox

import "sync"

// wakeSignal is a coalescing, closable wake-up channel for the Worker loop.
//
// Tasks live in the store, not in memory, so the signal carries no data:
// it only tells the Run loop that new work may be due. Any number of
// notifications between two waits collapse into one.
type wakeSignal struct {
	mu     sync.Mutex
	closed bool
	ch     chan struct{} // buffered, size 1
}

func newWakeSignal() *wakeSignal {
	return &wakeSignal{ch: make(chan struct{}, 1)}
}

// Notify wakes the loop. Safe from any goroutine.
// Returns false if the signal is closed.
func (s *wakeSignal) Notify() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return true
}

// Wait returns the channel to select on. It is closed by Close, which
// makes every waiter fire immediately.
func (s *wakeSignal) Wait() <-chan struct{} {
	return s.ch
}

// Closed reports whether Close was called.
func (s *wakeSignal) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the signal. Idempotent.
func (s *wakeSignal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
