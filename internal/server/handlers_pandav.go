package server

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reclabs/recbridge/internal/pathutil"
	"github.com/reclabs/recbridge/internal/session"
	"github.com/reclabs/recbridge/internal/webdav"
)

// davSession resolves the session and requires its WebDAV client. Sessions
// that never supplied PanDav credentials are forbidden, not broken.
func (s *Service) davSession(id string) (*session.Session, *webdav.Client, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, nil, err
	}
	dav := sess.Dav()
	if dav == nil {
		return nil, nil, huma.Error403Forbidden("webdav credentials not configured")
	}
	return sess, dav, nil
}

func (s *Service) davList(ctx context.Context, input *pathQueryInput) (*listOutput, error) {
	sess, dav, err := s.davSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	entries, err := dav.List(pathutil.Resolve(sess.DavCwd(), input.Path))
	if err != nil {
		return nil, domainError(err)
	}
	return entriesOutput(entries), nil
}

func (s *Service) davMkdir(ctx context.Context, input *pathBodyInput) (*okOutput, error) {
	sess, dav, err := s.davSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := dav.EnsureDirAll(pathutil.Resolve(sess.DavCwd(), input.Body.Path)); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) davCd(ctx context.Context, input *pathBodyInput) (*pwdOutput, error) {
	sess, dav, err := s.davSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	abs := pathutil.Resolve(sess.DavCwd(), input.Body.Path)
	entry, err := dav.Stat(abs)
	if err != nil {
		return nil, domainError(err)
	}
	if !entry.IsDir() {
		return nil, huma.Error400BadRequest(abs + " is not a directory")
	}
	sess.SetDavCwd(abs)
	out := &pwdOutput{}
	out.Body.Path = abs
	return out, nil
}

func (s *Service) davRename(ctx context.Context, input *renameInput) (*okOutput, error) {
	sess, dav, err := s.davSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	abs := pathutil.Resolve(sess.DavCwd(), input.Body.Path)
	dst := pathutil.Join(pathutil.Parent(abs), input.Body.NewName)
	if err := dav.Rename(abs, dst, false); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

type srcDstInput struct {
	SessionID string `header:"X-Session-ID"`
	Body      struct {
		SrcPath   string `json:"srcPath"`
		DestPath  string `json:"destPath"`
		Overwrite bool   `json:"overwrite,omitempty"`
	}
}

func (s *Service) davCopy(ctx context.Context, input *srcDstInput) (*okOutput, error) {
	sess, dav, err := s.davSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	src := pathutil.Resolve(sess.DavCwd(), input.Body.SrcPath)
	dst := pathutil.Resolve(sess.DavCwd(), input.Body.DestPath)
	if err := dav.Copy(src, dst, input.Body.Overwrite); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) davMove(ctx context.Context, input *srcDstInput) (*okOutput, error) {
	sess, dav, err := s.davSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	src := pathutil.Resolve(sess.DavCwd(), input.Body.SrcPath)
	dst := pathutil.Resolve(sess.DavCwd(), input.Body.DestPath)
	if err := dav.Rename(src, dst, input.Body.Overwrite); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) davDelete(ctx context.Context, input *pathQueryInput) (*okOutput, error) {
	sess, dav, err := s.davSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := dav.Delete(pathutil.Resolve(sess.DavCwd(), input.Path)); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) davPwd(ctx context.Context, input *sessionInput) (*pwdOutput, error) {
	sess, _, err := s.davSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	out := &pwdOutput{}
	out.Body.Path = sess.DavCwd()
	return out, nil
}
