package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// rangeServer serves content honoring `Range: bytes=N-` and `bytes=0-0`
// requests, recording every Range header it sees.
type rangeServer struct {
	content []byte

	mu     sync.Mutex
	ranges []string
}

func (rs *rangeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		rs.mu.Lock()
		rs.ranges = append(rs.ranges, rng)
		rs.mu.Unlock()

		total := len(rs.content)
		if rng == "" {
			w.Write(rs.content)
			return
		}
		if total == 0 {
			// No byte range is satisfiable against an empty representation.
			w.Header().Set("Content-Range", "bytes */0")
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		spec := strings.TrimPrefix(rng, "bytes=")
		if spec == "0-0" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", total))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(rs.content[:1])
			return
		}
		offset, err := strconv.Atoi(strings.TrimSuffix(spec, "-"))
		if err != nil || offset >= total {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, total-1, total))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(rs.content[offset:])
	}
}

func (rs *rangeServer) sawRange(want string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, r := range rs.ranges {
		if r == want {
			return true
		}
	}
	return false
}

func (rs *rangeServer) seen() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

func TestRangedStreamReadsAll(t *testing.T) {
	content := bytes.Repeat([]byte("recbridge"), 1024)
	rs := &rangeServer{content: content}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	s := NewRangedStream(srv.Client(), srv.URL, 0, NewSignal(), NewAbort())
	defer s.Close()

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("read %d bytes, want %d matching bytes", len(got), len(content))
	}
	if s.BytesReceived() != int64(len(content)) {
		t.Errorf("BytesReceived = %d, want %d", s.BytesReceived(), len(content))
	}
	if s.TotalSize() != int64(len(content)) {
		t.Errorf("TotalSize = %d, want %d", s.TotalSize(), len(content))
	}
	if !rs.sawRange("bytes=0-0") {
		t.Error("size discovery request missing")
	}
	if !rs.sawRange("bytes=0-") {
		t.Error("full-content ranged request missing")
	}
}

func TestRangedStreamEmptyFile(t *testing.T) {
	// Size discovery against an empty file gets 416 + "bytes */0"; the
	// stream must resolve to an immediate, clean EOF.
	rs := &rangeServer{}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	s := NewRangedStream(srv.Client(), srv.URL, 0, NewSignal(), NewAbort())
	defer s.Close()

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("read %d bytes from an empty source", len(got))
	}
	if s.TotalSize() != 0 {
		t.Errorf("TotalSize = %d, want 0", s.TotalSize())
	}
}

func TestRangedStreamStartsAtOffset(t *testing.T) {
	content := []byte("0123456789abcdef")
	rs := &rangeServer{content: content}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	s := NewRangedStream(srv.Client(), srv.URL, 10, nil, nil)
	defer s.Close()

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "abcdef" {
		t.Errorf("got %q, want the suffix from offset 10", got)
	}
	if !rs.sawRange("bytes=10-") {
		t.Error("expected a ranged request at the initial offset")
	}
}

func TestRangedStreamPauseResume(t *testing.T) {
	content := bytes.Repeat([]byte("p"), 64*1024)
	rs := &rangeServer{content: content}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	pause := NewSignal()
	s := NewRangedStream(srv.Client(), srv.URL, 0, pause, NewAbort())
	defer s.Close()

	// Pull a first chunk, then pause.
	buf := make([]byte, 4096)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if n == 0 {
		t.Fatal("first Read returned no bytes")
	}
	received := s.BytesReceived()
	pause.Pause()

	// A Read during pause blocks until resume, then continues from the
	// cursor with a fresh ranged request.
	readDone := make(chan error, 1)
	var rest []byte
	go func() {
		b, err := io.ReadAll(s)
		rest = b
		readDone <- err
	}()

	select {
	case err := <-readDone:
		t.Fatalf("Read completed while paused: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	pause.Resume()
	select {
	case err := <-readDone:
		if err != nil {
			t.Fatalf("read after resume: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read did not complete after resume")
	}

	if got := received + int64(len(rest)); got != int64(len(content)) {
		t.Errorf("delivered %d bytes total, want %d", got, len(content))
	}
	if !rs.sawRange(fmt.Sprintf("bytes=%d-", received)) {
		t.Errorf("expected a resume request at offset %d, saw %v", received, rs.seen())
	}
}

func TestRangedStreamAbort(t *testing.T) {
	content := bytes.Repeat([]byte("a"), 8192)
	rs := &rangeServer{content: content}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	abort := NewAbort()
	s := NewRangedStream(srv.Client(), srv.URL, 0, NewSignal(), abort)
	defer s.Close()

	buf := make([]byte, 1024)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("first Read: %v", err)
	}

	abort.Trigger()
	_, err := s.Read(buf)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Read after abort = %v, want ErrAborted", err)
	}
}

func TestRangedStreamPrematureEnd(t *testing.T) {
	// The origin claims 100 bytes but serves fewer on the content request.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", "bytes 0-0/100")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("x"))
			return
		}
		w.Header().Set("Content-Range", "bytes 0-99/100")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(bytes.Repeat([]byte("x"), 40))
	}))
	defer srv.Close()

	s := NewRangedStream(srv.Client(), srv.URL, 0, nil, nil)
	defer s.Close()

	_, err := io.ReadAll(s)
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("ReadAll = %v, want ErrStreamEnded", err)
	}
}

func TestRangedStreamDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewRangedStream(srv.Client(), srv.URL, 0, nil, nil)
	defer s.Close()

	buf := make([]byte, 16)
	if _, err := s.Read(buf); err == nil {
		t.Fatal("expected size discovery to fail on HTTP 500")
	}
}

func TestRangedStreamClosedRead(t *testing.T) {
	s := NewRangedStream(nil, "http://unused.invalid/file", 0, nil, nil)
	s.Close()
	if _, err := s.Read(make([]byte, 8)); err == nil {
		t.Fatal("Read on closed stream should fail")
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	cases := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{"bytes 0-0/12345", 12345, false},
		{"bytes 100-199/200", 200, false},
		{"bytes 0-0/*", 0, true},
		{"", 0, true},
		{"garbage", 0, true},
		{"bytes 0-0/notanumber", 0, true},
	}
	for _, tc := range cases {
		got, err := parseContentRangeTotal(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseContentRangeTotal(%q): expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseContentRangeTotal(%q): %v", tc.header, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseContentRangeTotal(%q) = %d, want %d", tc.header, got, tc.want)
		}
	}
}
