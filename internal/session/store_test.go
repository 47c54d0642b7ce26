package session

import (
	"testing"

	"github.com/reclabs/recbridge/internal/models"
	"github.com/reclabs/recbridge/internal/rec"
	"github.com/reclabs/recbridge/internal/webdav"
)

func TestStoreLifecycle(t *testing.T) {
	st := NewStore()
	if st.Count() != 0 {
		t.Fatalf("new store count = %d, want 0", st.Count())
	}

	client := rec.NewClient("http://rec.test.invalid", nil)
	s := st.New("alice", models.User{Username: "alice"}, client)
	if s.ID == "" {
		t.Fatal("session id should be assigned")
	}
	if s.RecFS == nil || s.Local == nil {
		t.Error("session collaborators should be initialized")
	}
	if s.DavCwd() != "/" {
		t.Errorf("initial dav cwd = %q, want /", s.DavCwd())
	}
	if st.Count() != 1 {
		t.Errorf("count = %d, want 1", st.Count())
	}

	got, ok := st.Get(s.ID)
	if !ok || got != s {
		t.Errorf("Get(%s) = %v, %v", s.ID, got, ok)
	}
	if _, ok := st.Get("missing"); ok {
		t.Error("Get on an unknown id should miss")
	}

	st.Delete(s.ID)
	if _, ok := st.Get(s.ID); ok {
		t.Error("session should be gone after Delete")
	}
	if st.Count() != 0 {
		t.Errorf("count after delete = %d, want 0", st.Count())
	}
}

func TestSessionDav(t *testing.T) {
	st := NewStore()
	s := st.New("alice", models.User{}, rec.NewClient("http://rec.test.invalid", nil))

	if s.Dav() != nil {
		t.Fatal("fresh session should have no webdav client")
	}
	deps := s.Deps(nil)
	if deps.Dav != nil {
		t.Error("deps should mirror the missing webdav client")
	}

	dav := webdav.New("http://dav.test.invalid", "u", "p")
	s.SetDav(dav)
	if s.Dav() != dav {
		t.Error("SetDav should install the client")
	}
	if s.Deps(nil).Dav != dav {
		t.Error("deps should carry the installed client")
	}

	s.SetDavCwd("/shared/data")
	if s.DavCwd() != "/shared/data" {
		t.Errorf("dav cwd = %q", s.DavCwd())
	}

	s.SetDav(nil)
	if s.Dav() != nil {
		t.Error("SetDav(nil) should clear the client")
	}
}
