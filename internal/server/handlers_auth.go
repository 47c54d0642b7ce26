package server

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reclabs/recbridge/internal/config"
	"github.com/reclabs/recbridge/internal/models"
	"github.com/reclabs/recbridge/internal/rec"
	"github.com/reclabs/recbridge/internal/version"
	"github.com/reclabs/recbridge/internal/webdav"
)

type healthOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Uptime  int    `json:"uptime"`
	}
}

func (s *Service) getHealth(ctx context.Context, input *struct{}) (*healthOutput, error) {
	out := &healthOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Version
	out.Body.Uptime = int(time.Since(s.startTime).Seconds())
	return out, nil
}

type loginInput struct {
	Body struct {
		RecAccount     string `json:"recAccount" doc:"Rec account name"`
		RecPassword    string `json:"recPassword" doc:"Rec account password"`
		PanDavAccount  string `json:"panDavAccount,omitempty" doc:"optional WebDAV account"`
		PanDavPassword string `json:"panDavPassword,omitempty" doc:"optional WebDAV password"`
	}
}

type loginOutput struct {
	Body struct {
		SessionID string      `json:"sessionId"`
		User      models.User `json:"user"`
	}
}

// postLogin authenticates against the Rec API, creates a session, and binds
// the WebDAV client from supplied or previously cached credentials.
func (s *Service) postLogin(ctx context.Context, input *loginInput) (*loginOutput, error) {
	account := input.Body.RecAccount
	if account == "" || input.Body.RecPassword == "" {
		return nil, huma.Error400BadRequest("recAccount and recPassword are required")
	}

	client := rec.NewClient(s.cfg.RecBaseURL, s.log.Child("rec"))
	user, err := client.LoginWithCache(ctx, account, input.Body.RecPassword)
	if err != nil {
		s.log.Warn().Err(err).Str("account", account).Msg("login failed")
		return nil, huma.Error401Unauthorized("login failed: " + err.Error())
	}

	sess := s.sessions.New(account, user, client)

	if input.Body.PanDavAccount != "" {
		if s.cfg.WebDAVURL == "" {
			return nil, huma.Error400BadRequest("webdavUrl is not configured")
		}
		creds := &config.WebDAVCredentials{
			Account:  input.Body.PanDavAccount,
			Password: input.Body.PanDavPassword,
			URL:      s.cfg.WebDAVURL,
		}
		if err := config.SaveWebDAVCredentials(account, creds); err != nil {
			s.log.Warn().Err(err).Msg("failed to cache webdav credentials")
		}
		sess.SetDav(webdav.New(creds.URL, creds.Account, creds.Password))
	} else if creds, err := config.LoadWebDAVCredentials(account); err == nil && creds != nil {
		url := creds.URL
		if url == "" {
			url = s.cfg.WebDAVURL
		}
		if url != "" {
			sess.SetDav(webdav.New(url, creds.Account, creds.Password))
		}
	}

	s.log.Info().Str("account", account).Str("session", sess.ID).Msg("session created")
	out := &loginOutput{}
	out.Body.SessionID = sess.ID
	out.Body.User = user
	return out, nil
}

type sessionInput struct {
	SessionID string `header:"X-Session-ID" doc:"session identifier from /login"`
}

type okOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}

func ok() *okOutput {
	out := &okOutput{}
	out.Body.OK = true
	return out
}

// postLogout drops the session and its cached Rec tokens.
func (s *Service) postLogout(ctx context.Context, input *sessionInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Rec.Logout(); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear token cache")
	}
	s.sessions.Delete(sess.ID)
	s.log.Info().Str("session", sess.ID).Msg("session closed")
	return ok(), nil
}
