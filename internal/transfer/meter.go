package transfer

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reclabs/recbridge/internal/constants"
)

// ProgressFunc receives periodic byte counts and a smoothed rate in
// bytes/second from a Meter.
type ProgressFunc func(transferred int64, rate int64)

// Meter is a transparent pass-through reader that samples its byte counter
// every 200 ms, turns the per-sample delta into an instantaneous rate and
// reports a 5-sample moving average through the callback. Windows with no
// byte movement are skipped rather than injected as zeros, so a paused
// stream simply goes quiet. Close emits one final callback with rate 0.
type Meter struct {
	r  io.Reader
	cb ProgressFunc

	transferred atomic.Int64

	mu       sync.Mutex
	window   []int64
	lastSeen int64
	stop     chan struct{}
	stopped  bool
}

// NewMeter wraps r and starts the sampler. The callback runs on the sampler
// goroutine; it must not block.
func NewMeter(r io.Reader, cb ProgressFunc) *Meter {
	m := &Meter{
		r:      r,
		cb:     cb,
		window: make([]int64, 0, constants.MeterWindowSize),
		stop:   make(chan struct{}),
	}
	go m.sample()
	return m
}

// Read implements io.Reader, counting every byte it passes through.
func (m *Meter) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.transferred.Add(int64(n))
	}
	return n, err
}

// Transferred returns the bytes counted so far.
func (m *Meter) Transferred() int64 {
	return m.transferred.Load()
}

// Close stops the sampler and emits the final zero-rate callback. Always
// call it, including on error paths; it is idempotent.
func (m *Meter) Close() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stop)
	m.mu.Unlock()

	if m.cb != nil {
		m.cb(m.transferred.Load(), 0)
	}
	return nil
}

func (m *Meter) sample() {
	ticker := time.NewTicker(constants.MeterSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		current := m.transferred.Load()
		m.mu.Lock()
		delta := current - m.lastSeen
		if delta <= 0 {
			m.mu.Unlock()
			continue
		}
		m.lastSeen = current

		// Scale the 200 ms delta to a per-second rate.
		instant := delta * int64(time.Second/constants.MeterSampleInterval)
		m.window = append(m.window, instant)
		if len(m.window) > constants.MeterWindowSize {
			m.window = m.window[1:]
		}
		var sum int64
		for _, r := range m.window {
			sum += r
		}
		avg := sum / int64(len(m.window))
		m.mu.Unlock()

		if m.cb != nil {
			m.cb(current, avg)
		}
	}
}
