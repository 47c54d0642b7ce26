package webdav

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reclabs/recbridge/internal/models"
)

const backupMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/backup/</D:href>
    <D:propstat>
      <D:prop>
        <D:displayname>backup</D:displayname>
        <D:resourcetype><D:collection/></D:resourcetype>
        <D:getlastmodified>Fri, 12 Jun 2026 10:00:00 GMT</D:getlastmodified>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/backup/report.pdf</D:href>
    <D:propstat>
      <D:prop>
        <D:displayname>report.pdf</D:displayname>
        <D:resourcetype/>
        <D:getcontentlength>2048</D:getcontentlength>
        <D:getlastmodified>Fri, 12 Jun 2026 10:00:00 GMT</D:getlastmodified>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/backup/papers/</D:href>
    <D:propstat>
      <D:prop>
        <D:displayname>papers</D:displayname>
        <D:resourcetype><D:collection/></D:resourcetype>
        <D:getlastmodified>Fri, 12 Jun 2026 10:00:00 GMT</D:getlastmodified>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

const fileStatMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/backup/report.pdf</D:href>
    <D:propstat>
      <D:prop>
        <D:displayname>report.pdf</D:displayname>
        <D:resourcetype/>
        <D:getcontentlength>2048</D:getcontentlength>
        <D:getlastmodified>Fri, 12 Jun 2026 10:00:00 GMT</D:getlastmodified>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

// fakeDav is a minimal WebDAV endpoint: PROPFIND over canned fixtures plus
// capturing handlers for the mutating verbs.
type fakeDav struct {
	mu       sync.Mutex
	puts     map[string][]byte
	mkcols   []string
	mkcolRC  int // status for MKCOL on /backup/new
	moves    []string
	copies   []string
	deletes  []string
}

func newFakeDav() *fakeDav {
	return &fakeDav{puts: make(map[string][]byte), mkcolRC: http.StatusCreated}
}

func (f *fakeDav) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case "PROPFIND":
			switch {
			case r.URL.Path == "/backup/" || r.URL.Path == "/backup":
				w.WriteHeader(http.StatusMultiStatus)
				io.WriteString(w, backupMultistatus)
			case r.URL.Path == "/backup/report.pdf":
				w.WriteHeader(http.StatusMultiStatus)
				io.WriteString(w, fileStatMultistatus)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		case "MKCOL":
			f.mkcols = append(f.mkcols, r.URL.Path)
			if strings.HasPrefix(r.URL.Path, "/backup/") && r.URL.Path != "/backup/new/" {
				// Existing collection
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(f.mkcolRC)
		case "PUT":
			body, _ := io.ReadAll(r.Body)
			f.puts[r.URL.Path] = body
			w.WriteHeader(http.StatusCreated)
		case "DELETE":
			f.deletes = append(f.deletes, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		case "MOVE":
			f.moves = append(f.moves, r.URL.Path+" -> "+r.Header.Get("Destination")+" ow="+r.Header.Get("Overwrite"))
			w.WriteHeader(http.StatusCreated)
		case "COPY":
			f.copies = append(f.copies, r.URL.Path+" -> "+r.Header.Get("Destination")+" ow="+r.Header.Get("Overwrite"))
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func TestClientList(t *testing.T) {
	fake := newFakeDav()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	entries, err := c.List("/backup")
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	// Directories first, then by name
	if entries[0].Name != "papers" || !entries[0].IsDir() {
		t.Errorf("entry 0 = %+v, want directory papers", entries[0])
	}
	if entries[1].Name != "report.pdf" || entries[1].IsDir() {
		t.Errorf("entry 1 = %+v, want file report.pdf", entries[1])
	}
	if entries[1].Size != 2048 {
		t.Errorf("report.pdf size = %d, want 2048", entries[1].Size)
	}
	if entries[1].Type != models.EntryFile {
		t.Errorf("report.pdf type = %q, want file", entries[1].Type)
	}
	if entries[0].ID != "/backup/papers" {
		t.Errorf("papers id = %q, want /backup/papers", entries[0].ID)
	}
	if entries[1].LastModified == nil {
		t.Error("report.pdf should carry a modification time")
	}
}

func TestClientListMissing(t *testing.T) {
	fake := newFakeDav()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	if _, err := c.List("/nope"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestClientStat(t *testing.T) {
	fake := newFakeDav()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	entry, err := c.Stat("/backup/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name != "report.pdf" || entry.Size != 2048 || entry.IsDir() {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.ID != "/backup/report.pdf" {
		t.Errorf("id = %q, want /backup/report.pdf", entry.ID)
	}
}

func TestClientSize(t *testing.T) {
	fake := newFakeDav()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	size, err := c.Size("/backup/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if size != 2048 {
		t.Errorf("size = %d, want 2048", size)
	}
	if _, err := c.Size("/backup/missing.pdf"); err == nil {
		t.Error("Size on a missing file should fail")
	}
}

func TestClientExists(t *testing.T) {
	fake := newFakeDav()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := New(srv.URL, "user", "pass")

	ok, err := c.Exists("/backup/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected /backup/report.pdf to exist")
	}

	ok, err = c.Exists("/backup/ghost.bin")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected /backup/ghost.bin to be absent")
	}
}

func TestClientEnsureDir(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		fake := newFakeDav()
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()

		c := New(srv.URL, "user", "pass")
		if err := c.EnsureDir("/backup/new"); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("already exists 405", func(t *testing.T) {
		fake := newFakeDav()
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()

		c := New(srv.URL, "user", "pass")
		// /backup/papers answers MKCOL with 405
		if err := c.EnsureDir("/backup/papers"); err != nil {
			t.Fatalf("existing directory should be tolerated, got: %v", err)
		}
	})

	t.Run("already exists 409", func(t *testing.T) {
		fake := newFakeDav()
		fake.mkcolRC = http.StatusConflict
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()

		c := New(srv.URL, "user", "pass")
		if err := c.EnsureDir("/backup/new"); err != nil {
			t.Fatalf("409 should be tolerated, got: %v", err)
		}
	})

	t.Run("forbidden propagates", func(t *testing.T) {
		fake := newFakeDav()
		fake.mkcolRC = http.StatusForbidden
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()

		c := New(srv.URL, "user", "pass")
		if err := c.EnsureDir("/backup/new"); err == nil {
			t.Fatal("expected error for 403")
		}
	})
}

func TestClientWriteStream(t *testing.T) {
	fake := newFakeDav()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	payload := strings.Repeat("recbridge", 128)
	if err := c.WriteStream("/backup/out.bin", strings.NewReader(payload)); err != nil {
		t.Fatal(err)
	}

	fake.mu.Lock()
	body := fake.puts["/backup/out.bin"]
	fake.mu.Unlock()
	if string(body) != payload {
		t.Errorf("uploaded %d bytes, want %d", len(body), len(payload))
	}
}

func TestClientDeleteRenameCopy(t *testing.T) {
	fake := newFakeDav()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := New(srv.URL, "user", "pass")

	if err := c.Delete("/backup/report.pdf"); err != nil {
		t.Fatal(err)
	}
	if err := c.Rename("/backup/report.pdf", "/backup/renamed.pdf", true); err != nil {
		t.Fatal(err)
	}
	if err := c.Copy("/backup/report.pdf", "/backup/copy.pdf", false); err != nil {
		t.Fatal(err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.deletes) != 1 || fake.deletes[0] != "/backup/report.pdf" {
		t.Errorf("deletes = %v", fake.deletes)
	}
	if len(fake.moves) != 1 || !strings.Contains(fake.moves[0], "/backup/renamed.pdf") || !strings.HasSuffix(fake.moves[0], "ow=T") {
		t.Errorf("moves = %v", fake.moves)
	}
	if len(fake.copies) != 1 || !strings.Contains(fake.copies[0], "/backup/copy.pdf") || !strings.HasSuffix(fake.copies[0], "ow=F") {
		t.Errorf("copies = %v", fake.copies)
	}
}

func TestEntryNormalization(t *testing.T) {
	// Listing entries are path-identified: namespace roots aside, id is
	// always parent + name.
	for _, tc := range []struct {
		parent, name, want string
	}{
		{"/", "top", "/top"},
		{"/backup", "report.pdf", "/backup/report.pdf"},
		{"/backup/papers", "a", "/backup/papers/a"},
	} {
		entry := entryFromInfo(tc.parent, fakeInfo{name: tc.name})
		if entry.ID != tc.want {
			t.Errorf("entryFromInfo(%q, %q).ID = %q, want %q", tc.parent, tc.name, entry.ID, tc.want)
		}
	}
}

type fakeInfo struct {
	name string
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return 0 }
func (f fakeInfo) Mode() os.FileMode  { return 0 }
func (f fakeInfo) ModTime() time.Time { return time.Time{} }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() interface{}   { return nil }
