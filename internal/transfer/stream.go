package transfer

import (
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync"
)

// RangedStream reads the content of a URL as an io.ReadCloser that survives
// pause/resume cycles. A pause tears the inner HTTP body down; resume issues
// a new GET with `Range: bytes=<received>-` so the concatenation of bytes
// delivered to the consumer is always a prefix of the origin content.
// Backpressure falls out of the pull model: bytes are only fetched as fast
// as the consumer Reads.
//
// The stream assumes the origin serves stable content for the lifetime of
// the URL; Rec download URLs satisfy this.
type RangedStream struct {
	client *nethttp.Client
	url    string
	pause  *Signal
	abort  *Abort

	mu       sync.Mutex
	body     io.ReadCloser // current inner response body, nil between attempts
	unwatch  chan struct{} // stops the watcher for the current body
	received int64
	total    int64 // -1 until discovered
	closed   bool
}

// NewRangedStream creates a stream over url. pause and abort may be nil when
// the caller needs neither; workers always pass the task's shared handles.
// The byte cursor starts at offset, normally 0.
func NewRangedStream(client *nethttp.Client, url string, offset int64, pause *Signal, abort *Abort) *RangedStream {
	if client == nil {
		client = nethttp.DefaultClient
	}
	return &RangedStream{
		client:   client,
		url:      url,
		pause:    pause,
		abort:    abort,
		received: offset,
		total:    -1,
	}
}

// BytesReceived returns the cursor: how many bytes have been delivered to
// the consumer. Monotonically non-decreasing.
func (s *RangedStream) BytesReceived() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// TotalSize returns the discovered content length, or -1 before the first
// Read performs discovery.
func (s *RangedStream) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Read implements io.Reader. It lazily discovers the total size, opens and
// re-opens ranged GETs as pause/resume demand, and returns io.EOF only once
// the cursor reaches the discovered total.
func (s *RangedStream) Read(p []byte) (int, error) {
	for {
		if s.aborted() {
			s.teardown()
			return 0, ErrAborted
		}

		if s.pause != nil && s.pause.Paused() {
			// Keep the cursor, drop the connection.
			s.teardown()
			if err := s.awaitResume(); err != nil {
				return 0, err
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, fmt.Errorf("read on closed stream")
		}
		if s.total < 0 {
			s.mu.Unlock()
			if err := s.discoverSize(); err != nil {
				return 0, err
			}
			continue
		}
		if s.received >= s.total {
			s.mu.Unlock()
			return 0, io.EOF
		}
		body := s.body
		s.mu.Unlock()

		if body == nil {
			if err := s.startInner(); err != nil {
				if s.aborted() {
					return 0, ErrAborted
				}
				return 0, err
			}
			continue
		}

		n, err := body.Read(p)
		if n > 0 {
			s.mu.Lock()
			s.received += int64(n)
			s.mu.Unlock()
			return n, nil
		}
		if err != nil {
			s.teardown()
			switch {
			case s.aborted():
				return 0, ErrAborted
			case s.pause != nil && s.pause.Paused():
				// The watcher closed the body under us; loop back into the
				// pause wait with the cursor intact.
				continue
			case err == io.EOF:
				s.mu.Lock()
				done := s.received >= s.total
				s.mu.Unlock()
				if done {
					return 0, io.EOF
				}
				return 0, fmt.Errorf("%w: got %d of %d bytes", ErrStreamEnded, s.BytesReceived(), s.TotalSize())
			default:
				return 0, fmt.Errorf("stream read failed at offset %d: %w", s.BytesReceived(), err)
			}
		}
	}
}

// Close tears down any inner stream. Subsequent Reads fail.
func (s *RangedStream) Close() error {
	s.teardown()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *RangedStream) aborted() bool {
	return s.abort != nil && s.abort.Aborted()
}

// awaitResume blocks until the pause signal clears or the abort fires.
func (s *RangedStream) awaitResume() error {
	for s.pause.Paused() {
		ch := s.pause.Changed()
		if s.abort != nil {
			select {
			case <-ch:
			case <-s.abort.Done():
				return ErrAborted
			}
		} else {
			<-ch
		}
	}
	return nil
}

// discoverSize issues `Range: bytes=0-0` and parses the Content-Range total.
// No total means no verifiable completion, so a failure here is fatal for
// the stream.
func (s *RangedStream) discoverSize() error {
	req, err := nethttp.NewRequest(nethttp.MethodGet, s.url, nil)
	if err != nil {
		return Fatalf("invalid download url: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("size discovery failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	var total int64
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		total, err = parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if err != nil {
			return fmt.Errorf("size discovery failed: %w", err)
		}
	case nethttp.StatusOK:
		// Origin ignored the range header; fall back to Content-Length.
		if resp.ContentLength < 0 {
			return fmt.Errorf("size discovery failed: origin reports no length")
		}
		total = resp.ContentLength
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// An empty representation has no satisfiable range; the total still
		// arrives as "bytes */TOTAL".
		total, err = parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if err != nil {
			return fmt.Errorf("size discovery failed: %w", err)
		}
	default:
		return fmt.Errorf("size discovery failed: unexpected status %d", resp.StatusCode)
	}

	s.mu.Lock()
	s.total = total
	s.mu.Unlock()
	return nil
}

// startInner opens a GET at the current cursor and installs a watcher that
// severs the body when pause or abort fires, unblocking any in-flight Read.
func (s *RangedStream) startInner() error {
	s.mu.Lock()
	offset := s.received
	s.mu.Unlock()

	req, err := nethttp.NewRequest(nethttp.MethodGet, s.url, nil)
	if err != nil {
		return Fatalf("invalid download url: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ranged request at offset %d failed: %w", offset, err)
	}
	if resp.StatusCode != nethttp.StatusPartialContent &&
		!(resp.StatusCode == nethttp.StatusOK && offset == 0) {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return fmt.Errorf("ranged request at offset %d: unexpected status %d", offset, resp.StatusCode)
	}

	unwatch := make(chan struct{})
	s.mu.Lock()
	s.body = resp.Body
	s.unwatch = unwatch
	s.mu.Unlock()

	go s.watch(resp.Body, unwatch)
	return nil
}

// watch closes body as soon as pause or abort fires, so a Read blocked on
// the network returns instead of stalling the suspension.
func (s *RangedStream) watch(body io.ReadCloser, unwatch <-chan struct{}) {
	var pauseCh <-chan struct{}
	if s.pause != nil {
		pauseCh = s.pause.Changed()
		// A pause that landed between startInner and here would be missed by
		// the channel; catch it synchronously.
		if s.pause.Paused() {
			body.Close()
			return
		}
	}
	var abortCh <-chan struct{}
	if s.abort != nil {
		abortCh = s.abort.Done()
	}

	select {
	case <-unwatch:
	case <-pauseCh:
		if s.pause.Paused() {
			body.Close()
		}
	case <-abortCh:
		body.Close()
	}
}

// teardown closes the current inner body and stops its watcher. The cursor
// is untouched.
func (s *RangedStream) teardown() {
	s.mu.Lock()
	body := s.body
	unwatch := s.unwatch
	s.body = nil
	s.unwatch = nil
	s.mu.Unlock()

	if unwatch != nil {
		close(unwatch)
	}
	if body != nil {
		body.Close()
	}
}

// parseContentRangeTotal extracts TOTAL from "bytes 0-0/TOTAL".
func parseContentRangeTotal(header string) (int64, error) {
	if header == "" {
		return 0, fmt.Errorf("missing Content-Range header")
	}
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	totalPart := header[idx+1:]
	if totalPart == "*" {
		return 0, fmt.Errorf("origin does not report a total size")
	}
	total, err := strconv.ParseInt(totalPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", header, err)
	}
	return total, nil
}
