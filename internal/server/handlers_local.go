package server

import (
	"context"

	"github.com/reclabs/recbridge/internal/models"
)

type localListInput struct {
	SessionID  string `header:"X-Session-ID"`
	Path       string `query:"path" doc:"local path, ~ expanded, relative to the session cwd"`
	ShowHidden bool   `query:"showHidden" doc:"include dotfiles in the listing"`
}

func (s *Service) localList(ctx context.Context, input *localListInput) (*listOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	entries, err := sess.Local.List(input.Path, input.ShowHidden)
	if err != nil {
		return nil, domainError(err)
	}
	return entriesOutput(entries), nil
}

func (s *Service) localPwd(ctx context.Context, input *sessionInput) (*pwdOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	out := &pwdOutput{}
	out.Body.Path = sess.Local.Pwd()
	return out, nil
}

type statOutput struct {
	Body models.Entry
}

func (s *Service) localStat(ctx context.Context, input *pathQueryInput) (*statOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	entry, err := sess.Local.Stat(input.Path)
	if err != nil {
		return nil, domainError(err)
	}
	return &statOutput{Body: entry}, nil
}

func (s *Service) localCd(ctx context.Context, input *pathBodyInput) (*pwdOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Local.Cd(input.Body.Path); err != nil {
		return nil, domainError(err)
	}
	out := &pwdOutput{}
	out.Body.Path = sess.Local.Pwd()
	return out, nil
}
