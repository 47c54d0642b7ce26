package server

import (
	"context"

	"github.com/reclabs/recbridge/internal/models"
	"github.com/reclabs/recbridge/internal/rec"
)

type listOutput struct {
	Body struct {
		Entries []models.Entry `json:"entries"`
	}
}

func entriesOutput(entries []models.Entry) *listOutput {
	out := &listOutput{}
	out.Body.Entries = entries
	if out.Body.Entries == nil {
		out.Body.Entries = []models.Entry{}
	}
	return out
}

type pathQueryInput struct {
	SessionID string `header:"X-Session-ID"`
	Path      string `query:"path" doc:"path, absolute or relative to the session cwd"`
}

type pathBodyInput struct {
	SessionID string `header:"X-Session-ID"`
	Body      struct {
		Path string `json:"path"`
	}
}

type pwdOutput struct {
	Body struct {
		Path string `json:"path"`
	}
}

func (s *Service) recList(ctx context.Context, input *pathQueryInput) (*listOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	entries, err := sess.RecFS.List(ctx, input.Path)
	if err != nil {
		return nil, domainError(err)
	}
	return entriesOutput(entries), nil
}

func (s *Service) recMkdir(ctx context.Context, input *pathBodyInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.RecFS.Mkdir(ctx, input.Body.Path); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) recCd(ctx context.Context, input *pathBodyInput) (*pwdOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.RecFS.Cd(ctx, input.Body.Path); err != nil {
		return nil, domainError(err)
	}
	out := &pwdOutput{}
	out.Body.Path = sess.RecFS.Pwd()
	return out, nil
}

type renameInput struct {
	SessionID string `header:"X-Session-ID"`
	Body      struct {
		Path    string `json:"path"`
		NewName string `json:"newName"`
	}
}

func (s *Service) recRename(ctx context.Context, input *renameInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.RecFS.Rename(ctx, input.Body.Path, input.Body.NewName); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) recRecycle(ctx context.Context, input *pathBodyInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.RecFS.Recycle(ctx, input.Body.Path); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) recRestore(ctx context.Context, input *pathBodyInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.RecFS.Restore(ctx, input.Body.Path); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) recUnwrap(ctx context.Context, input *pathBodyInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.RecFS.Unwrap(ctx, input.Body.Path); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

type saveInput struct {
	SessionID string `header:"X-Session-ID"`
	Body      struct {
		SrcPath  string `json:"srcPath"`
		DestPath string `json:"destPath"`
	}
}

func (s *Service) recSave(ctx context.Context, input *saveInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.RecFS.Save(ctx, input.Body.SrcPath, input.Body.DestPath); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) recDelete(ctx context.Context, input *pathQueryInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.RecFS.Delete(ctx, input.Path); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) recPwd(ctx context.Context, input *sessionInput) (*pwdOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	out := &pwdOutput{}
	out.Body.Path = sess.RecFS.Pwd()
	return out, nil
}

type whoamiOutput struct {
	Body models.User
}

func (s *Service) recWhoami(ctx context.Context, input *sessionInput) (*whoamiOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	user, err := sess.Rec.Whoami(ctx)
	if err != nil {
		return nil, domainError(err)
	}
	return &whoamiOutput{Body: user}, nil
}

type groupsOutput struct {
	Body struct {
		Groups []rec.Group `json:"groups"`
	}
}

func (s *Service) recGroups(ctx context.Context, input *sessionInput) (*groupsOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	groups, err := sess.Rec.Groups(ctx)
	if err != nil {
		return nil, domainError(err)
	}
	out := &groupsOutput{}
	out.Body.Groups = groups
	if out.Body.Groups == nil {
		out.Body.Groups = []rec.Group{}
	}
	return out, nil
}

type dfOutput struct {
	Body struct {
		Disks []rec.DiskFree `json:"disks"`
	}
}

func (s *Service) recDf(ctx context.Context, input *sessionInput) (*dfOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	disks, err := sess.RecFS.Df(ctx)
	if err != nil {
		return nil, domainError(err)
	}
	out := &dfOutput{}
	out.Body.Disks = disks
	return out, nil
}

type duOutput struct {
	Body struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
}

func (s *Service) recDu(ctx context.Context, input *pathQueryInput) (*duOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	size, err := sess.RecFS.Du(ctx, input.Path)
	if err != nil {
		return nil, domainError(err)
	}
	out := &duOutput{}
	out.Body.Path = input.Path
	out.Body.Size = size
	return out, nil
}
