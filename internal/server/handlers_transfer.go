package server

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reclabs/recbridge/internal/constants"
	"github.com/reclabs/recbridge/internal/services"
	"github.com/reclabs/recbridge/internal/session"
	"github.com/reclabs/recbridge/internal/transfer"
)

type createTransferInput struct {
	SessionID string `header:"X-Session-ID"`
	Body      struct {
		SrcPath      string `json:"srcPath" doc:"source path (Rec path, or local path for uploads)"`
		DestPath     string `json:"destPath" doc:"destination path (WebDAV, local, or Rec folder)"`
		TransferType string `json:"transferType" enum:"webdav,disk,upload" doc:"transfer variant"`
	}
}

type createTransferOutput struct {
	Body struct {
		TaskID string `json:"taskId"`
	}
}

type taskInput struct {
	SessionID string `header:"X-Session-ID"`
	ID        string `path:"id" doc:"transfer task id"`
}

type taskOutput struct {
	Body transfer.Snapshot
}

type taskListOutput struct {
	Body struct {
		Tasks []transfer.Snapshot `json:"tasks"`
	}
}

// parseType validates the wire transfer type.
func parseType(raw string) (transfer.Type, error) {
	switch t := transfer.Type(raw); t {
	case transfer.TypeWebDAV, transfer.TypeDisk, transfer.TypeUpload:
		return t, nil
	default:
		return "", huma.Error400BadRequest("unknown transferType " + raw)
	}
}

// backend builds the session-bound backend for one transfer type. A webdav
// transfer without stored WebDAV credentials is forbidden, not invalid.
func (s *Service) backend(sess *session.Session, taskType transfer.Type) (transfer.Backend, error) {
	if taskType == transfer.TypeWebDAV && sess.Dav() == nil {
		return nil, huma.Error403Forbidden("webdav credentials not configured")
	}
	deps := sess.Deps(s.log.Child("backend"))
	deps.Workers = s.cfg.Workers
	backend, err := services.NewBackend(taskType, deps)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return backend, nil
}

func (s *Service) createTransfer(ctx context.Context, input *createTransferInput) (*createTransferOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	taskType, err := parseType(input.Body.TransferType)
	if err != nil {
		return nil, err
	}
	if input.Body.SrcPath == "" || input.Body.DestPath == "" {
		return nil, huma.Error400BadRequest("srcPath and destPath are required")
	}
	if taskType == transfer.TypeWebDAV && sess.Dav() == nil {
		return nil, huma.Error403Forbidden("webdav credentials not configured")
	}

	snap := s.manager.Create(sess.ID, taskType, input.Body.SrcPath, input.Body.DestPath)
	out := &createTransferOutput{}
	out.Body.TaskID = snap.ID
	return out, nil
}

// taskForSession fetches a snapshot and enforces session ownership: tasks of
// other sessions are indistinguishable from missing ones.
func (s *Service) taskForSession(sess *session.Session, taskID string) (transfer.Snapshot, error) {
	snap, err := s.manager.Get(taskID)
	if err != nil {
		return transfer.Snapshot{}, domainError(err)
	}
	if snap.SessionID != sess.ID {
		return transfer.Snapshot{}, huma.Error404NotFound("task not found")
	}
	return snap, nil
}

func (s *Service) startTransfer(ctx context.Context, input *taskInput) (*taskOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	snap, err := s.taskForSession(sess, input.ID)
	if err != nil {
		return nil, err
	}
	backend, err := s.backend(sess, snap.Type)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Start(ctx, input.ID, backend); err != nil {
		return nil, domainError(err)
	}
	return s.snapshotOutput(sess, input.ID)
}

func (s *Service) pauseTransfer(ctx context.Context, input *taskInput) (*taskOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.taskForSession(sess, input.ID); err != nil {
		return nil, err
	}
	if err := s.manager.Pause(input.ID); err != nil {
		return nil, domainError(err)
	}
	return s.snapshotOutput(sess, input.ID)
}

func (s *Service) resumeTransfer(ctx context.Context, input *taskInput) (*taskOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	snap, err := s.taskForSession(sess, input.ID)
	if err != nil {
		return nil, err
	}
	backend, err := s.backend(sess, snap.Type)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Resume(ctx, input.ID, backend); err != nil {
		return nil, domainError(err)
	}
	return s.snapshotOutput(sess, input.ID)
}

func (s *Service) cancelTransfer(ctx context.Context, input *taskInput) (*taskOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.taskForSession(sess, input.ID); err != nil {
		return nil, err
	}
	if err := s.manager.Cancel(input.ID); err != nil {
		return nil, domainError(err)
	}
	return s.snapshotOutput(sess, input.ID)
}

func (s *Service) restartTransfer(ctx context.Context, input *taskInput) (*taskOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	snap, err := s.taskForSession(sess, input.ID)
	if err != nil {
		return nil, err
	}
	backend, err := s.backend(sess, snap.Type)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Restart(ctx, input.ID, backend); err != nil {
		return nil, domainError(err)
	}
	return s.snapshotOutput(sess, input.ID)
}

func (s *Service) getTransfer(ctx context.Context, input *taskInput) (*taskOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshotOutput(sess, input.ID)
}

// getTransferStatus reports a snapshot like getTransfer, but a terminal task
// is scheduled for eviction shortly after the response is written, so a
// poller sees the final state exactly once.
func (s *Service) getTransferStatus(ctx context.Context, input *taskInput) (*taskOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	snap, err := s.taskForSession(sess, input.ID)
	if err != nil {
		return nil, err
	}
	if snap.Status.Terminal() {
		id := snap.ID
		time.AfterFunc(constants.StatusAutoGCDelay, func() {
			if err := s.manager.Remove(id); err == nil {
				s.log.Debug().Str("task", id).Msg("terminal task evicted after status read")
			}
		})
	}
	return &taskOutput{Body: snap}, nil
}

func (s *Service) listTransfers(ctx context.Context, input *sessionInput) (*taskListOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	out := &taskListOutput{}
	out.Body.Tasks = s.manager.GetBySession(sess.ID)
	if out.Body.Tasks == nil {
		out.Body.Tasks = []transfer.Snapshot{}
	}
	return out, nil
}

func (s *Service) deleteTransfer(ctx context.Context, input *taskInput) (*okOutput, error) {
	sess, err := s.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.taskForSession(sess, input.ID); err != nil {
		return nil, err
	}
	if err := s.manager.Remove(input.ID); err != nil {
		return nil, domainError(err)
	}
	return ok(), nil
}

func (s *Service) snapshotOutput(sess *session.Session, taskID string) (*taskOutput, error) {
	snap, err := s.taskForSession(sess, taskID)
	if err != nil {
		return nil, err
	}
	return &taskOutput{Body: snap}, nil
}
