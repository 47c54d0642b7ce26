// Package session tracks authenticated clients of the REST service. Each
// session owns its Rec client, virtual filesystem cursor, optional WebDAV
// client and local browser, keyed by the X-Session-ID header.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reclabs/recbridge/internal/logging"
	"github.com/reclabs/recbridge/internal/models"
	"github.com/reclabs/recbridge/internal/rec"
	"github.com/reclabs/recbridge/internal/services"
	"github.com/reclabs/recbridge/internal/webdav"
)

// Session is one authenticated client.
type Session struct {
	ID        string
	Account   string
	User      models.User
	Rec       *rec.Client
	RecFS     *rec.FS
	Local     *services.LocalBrowser
	CreatedAt time.Time

	mu     sync.Mutex
	dav    *webdav.Client
	davCwd string
}

// SetDav installs the session's WebDAV client. Passing nil clears it.
func (s *Session) SetDav(dav *webdav.Client) {
	s.mu.Lock()
	s.dav = dav
	s.mu.Unlock()
}

// Dav returns the session's WebDAV client, nil when no credentials are
// configured.
func (s *Session) Dav() *webdav.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dav
}

// DavCwd returns the session's WebDAV working directory.
func (s *Session) DavCwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.davCwd
}

// SetDavCwd changes the session's WebDAV working directory.
func (s *Session) SetDavCwd(cwd string) {
	s.mu.Lock()
	s.davCwd = cwd
	s.mu.Unlock()
}

// Deps packages the session's collaborators for the transfer backends.
func (s *Session) Deps(log *logging.Logger) services.Deps {
	return services.Deps{
		RecFS: s.RecFS,
		Dav:   s.Dav(),
		Local: s.Local,
		Log:   log,
	}
}

// Store is the session registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// New registers a session for an authenticated Rec client and returns it.
func (st *Store) New(account string, user models.User, client *rec.Client) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Account:   account,
		User:      user,
		Rec:       client,
		RecFS:     rec.NewFS(client),
		Local:     services.NewLocalBrowser(),
		CreatedAt: time.Now(),
		davCwd:    "/",
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get looks a session up by id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Delete evicts a session.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
