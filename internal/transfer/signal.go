package transfer

import (
	"context"
	"sync"
)

// Signal is the shared pause flag for one running task. It has exactly two
// states, running and paused, supports synchronous query, and lets consumers
// wait for a transition without polling. Setting the current state again is
// a no-op and wakes nobody.
//
// One Signal is shared between the manager, the executor and every worker of
// a task.
type Signal struct {
	mu      sync.Mutex
	paused  bool
	changed chan struct{} // closed and replaced on every transition
}

// NewSignal creates a Signal in the running state.
func NewSignal() *Signal {
	return &Signal{changed: make(chan struct{})}
}

// Pause moves the signal to paused. Returns false if it already was.
func (s *Signal) Pause() bool {
	return s.set(true)
}

// Resume moves the signal to running. Returns false if it already was.
func (s *Signal) Resume() bool {
	return s.set(false)
}

func (s *Signal) set(paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return false
	}
	s.paused = paused
	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

// Paused reports the current state.
func (s *Signal) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Changed returns a channel that is closed on the next state transition.
// Callers re-fetch the channel after each wakeup.
func (s *Signal) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// AwaitResumed blocks while the signal is paused. It returns early with the
// context error when ctx is done, so an abort interrupts the wait.
func (s *Signal) AwaitResumed(ctx context.Context) error {
	for {
		s.mu.Lock()
		paused := s.paused
		ch := s.changed
		s.mu.Unlock()

		if !paused {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Abort is the one-shot cancellation handle that accompanies a task's pause
// signal. Triggering is idempotent; observers select on Done or query
// Aborted synchronously.
type Abort struct {
	once sync.Once
	done chan struct{}
}

// NewAbort creates an untriggered abort handle.
func NewAbort() *Abort {
	return &Abort{done: make(chan struct{})}
}

// Trigger fires the handle. Safe to call more than once.
func (a *Abort) Trigger() {
	a.once.Do(func() { close(a.done) })
}

// Aborted reports whether the handle has fired.
func (a *Abort) Aborted() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Done returns the channel closed when the handle fires.
func (a *Abort) Done() <-chan struct{} {
	return a.done
}

// Context derives a context that is cancelled when the handle fires. The
// returned stop function releases the watcher goroutine; callers defer it.
func (a *Abort) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-a.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
