// Package server exposes the REST surface: session management, transfer
// lifecycle, and browsing of the three namespaces (Rec, PanDav, local disk).
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/reclabs/recbridge/internal/config"
	"github.com/reclabs/recbridge/internal/events"
	"github.com/reclabs/recbridge/internal/logging"
	"github.com/reclabs/recbridge/internal/session"
	"github.com/reclabs/recbridge/internal/transfer"
	"github.com/reclabs/recbridge/internal/version"
)

// Service is the HTTP service: a mux router wrapped by huma, a session
// store, and the shared transfer manager.
type Service struct {
	cfg       config.Service
	log       *logging.Logger
	sessions  *session.Store
	manager   *transfer.Manager
	bus       *events.Bus
	router    *mux.Router
	api       huma.API
	server    *http.Server
	startTime time.Time
}

// New wires the service and registers every route.
func New(cfg config.Service, bus *events.Bus, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewServerLogger("server")
	}
	s := &Service{
		cfg:      cfg,
		log:      log,
		sessions: session.NewStore(),
		manager:  transfer.NewManager(bus, log.Child("manager")),
		bus:      bus,
		router:   mux.NewRouter(),
	}
	s.api = humamux.New(s.router, huma.DefaultConfig("RecBridge", version.Version))

	huma.Get(s.api, "/health", s.getHealth)
	huma.Post(s.api, "/login", s.postLogin)
	huma.Post(s.api, "/logout", s.postLogout)

	huma.Post(s.api, "/transfer/create", s.createTransfer)
	huma.Post(s.api, "/transfer/{id}/start", s.startTransfer)
	huma.Post(s.api, "/transfer/{id}/pause", s.pauseTransfer)
	huma.Post(s.api, "/transfer/{id}/resume", s.resumeTransfer)
	huma.Post(s.api, "/transfer/{id}/cancel", s.cancelTransfer)
	huma.Post(s.api, "/transfer/{id}/restart", s.restartTransfer)
	huma.Get(s.api, "/transfer/{id}", s.getTransfer)
	huma.Get(s.api, "/transfer/{id}/status", s.getTransferStatus)
	huma.Get(s.api, "/transfers", s.listTransfers)
	huma.Delete(s.api, "/transfer/{id}", s.deleteTransfer)

	huma.Get(s.api, "/rec/list", s.recList)
	huma.Post(s.api, "/rec/mkdir", s.recMkdir)
	huma.Post(s.api, "/rec/cd", s.recCd)
	huma.Post(s.api, "/rec/rename", s.recRename)
	huma.Post(s.api, "/rec/recycle", s.recRecycle)
	huma.Post(s.api, "/rec/restore", s.recRestore)
	huma.Post(s.api, "/rec/unwrap", s.recUnwrap)
	huma.Post(s.api, "/rec/save", s.recSave)
	huma.Delete(s.api, "/rec/delete", s.recDelete)
	huma.Get(s.api, "/rec/pwd", s.recPwd)
	huma.Get(s.api, "/rec/whoami", s.recWhoami)
	huma.Get(s.api, "/rec/groups", s.recGroups)
	huma.Get(s.api, "/rec/df", s.recDf)
	huma.Get(s.api, "/rec/du", s.recDu)

	huma.Get(s.api, "/pandav/list", s.davList)
	huma.Post(s.api, "/pandav/mkdir", s.davMkdir)
	huma.Post(s.api, "/pandav/cd", s.davCd)
	huma.Post(s.api, "/pandav/rename", s.davRename)
	huma.Post(s.api, "/pandav/copy", s.davCopy)
	huma.Post(s.api, "/pandav/move", s.davMove)
	huma.Delete(s.api, "/pandav/delete", s.davDelete)
	huma.Get(s.api, "/pandav/pwd", s.davPwd)

	huma.Get(s.api, "/local/list", s.localList)
	huma.Get(s.api, "/local/pwd", s.localPwd)
	huma.Get(s.api, "/local/stat", s.localStat)
	huma.Post(s.api, "/local/cd", s.localCd)

	return s
}

// Manager exposes the shared transfer manager, for shutdown cancellation.
func (s *Service) Manager() *transfer.Manager { return s.manager }

// Sessions exposes the session registry.
func (s *Service) Sessions() *session.Store { return s.sessions }

// Router exposes the HTTP handler, for tests driving the service through
// httptest.
func (s *Service) Router() http.Handler { return s.router }

// Start listens and serves until Shutdown or Close. Connections beyond the
// configured cap queue at the listener.
func (s *Service) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, s.cfg.MaxConnections)

	s.startTime = time.Now()
	s.log.Info().Str("addr", addr).Int("maxConnections", s.cfg.MaxConnections).
		Msg("service listening")

	s.server = &http.Server{Handler: s.router}
	err = s.server.Serve(listener)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels every running transfer and drains the listener.
func (s *Service) Shutdown(ctx context.Context) error {
	s.manager.CancelAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Close tears the service down without draining.
func (s *Service) Close() {
	s.manager.CancelAll()
	if s.server != nil {
		s.server.Close()
	}
}

// session resolves the X-Session-ID header into a live session.
func (s *Service) session(id string) (*session.Session, error) {
	if id == "" {
		return nil, huma.Error401Unauthorized("missing X-Session-ID header")
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, huma.Error401Unauthorized("invalid session")
	}
	return sess, nil
}

// domainError maps registry and validation errors onto REST status codes.
// Unknown task ids are 404; everything else the domain rejects is a 400.
func domainError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, transfer.ErrTaskNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error400BadRequest(err.Error())
}
