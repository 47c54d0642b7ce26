package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/reclabs/recbridge/internal/localfs"
	"github.com/reclabs/recbridge/internal/logging"
)

// UploadProcessor moves a local tree into Rec. A folder task resolves (or
// creates) its remote destination folder and expands into child tasks that
// carry the resolved folder id; a file task streams local bytes through the
// ticketed chunk upload.
type UploadProcessor struct {
	rec   UploadTarget
	pause *Signal
	abort *Abort
	log   *logging.Logger
}

// NewUploadProcessor wires a Rec upload target to a task's pause/abort
// handles.
func NewUploadProcessor(rec UploadTarget, pause *Signal, abort *Abort, log *logging.Logger) *UploadProcessor {
	if log == nil {
		log = logging.NewServerLogger("upload-worker")
	}
	return &UploadProcessor{rec: rec, pause: pause, abort: abort, log: log}
}

func (p *UploadProcessor) ProcessFolder(ctx context.Context, task WorkerTask) ([]WorkerTask, error) {
	// Reuse a same-named remote folder at this level when one exists, so a
	// restarted upload lands in the same tree instead of a duplicate.
	name := filepath.Base(task.Path)
	folderID, err := p.rec.EnsureFolder(ctx, task.ID, name, task.DiskType, task.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote folder %s: %w", name, err)
	}

	entries, err := localfs.List(task.Path, localfs.ListOptions{IncludeHidden: true})
	if err != nil {
		return nil, Fatalf("failed to list local folder %s: %w", task.Path, err)
	}

	// localfs.List already sorts directories first, then by name.
	tasks := make([]WorkerTask, 0, len(entries))
	for _, entry := range entries {
		kind := KindFile
		if entry.IsDir {
			kind = KindFolder
		}
		tasks = append(tasks, WorkerTask{
			ID:       folderID,
			DiskType: task.DiskType,
			GroupID:  task.GroupID,
			Kind:     kind,
			Path:     entry.Path,
		})
	}
	return tasks, nil
}

func (p *UploadProcessor) ProcessFile(ctx context.Context, task WorkerTask, report ReportFunc) error {
	info, err := os.Stat(task.Path)
	if err != nil {
		return Fatalf("failed to stat %s: %w", task.Path, err)
	}
	name := filepath.Base(task.Path)

	if info.Size() == 0 {
		p.log.Info().Str("path", task.Path).Msg("skipping empty file")
		return nil
	}

	// Skip-if-same-size against the remote folder's listing.
	siblings, err := p.rec.ListChildren(ctx, task.ID, task.DiskType, task.GroupID)
	if err != nil {
		return fmt.Errorf("failed to list remote folder: %w", err)
	}
	for _, sibling := range siblings {
		if !sibling.IsDir && sibling.Name == name && sibling.Size == info.Size() {
			p.log.Debug().Str("path", task.Path).Int64("size", info.Size()).Msg("remote file up to date, skipping")
			report(task.Path, info.Size(), 0)
			return nil
		}
	}

	f, err := os.Open(task.Path)
	if err != nil {
		return Fatalf("failed to open %s: %w", task.Path, err)
	}
	defer f.Close()

	meter := NewMeter(&pausableReader{r: f, pause: p.pause, abort: p.abort}, func(moved, rate int64) {
		report(task.Path, moved, rate)
	})
	defer meter.Close()

	if err := p.rec.Upload(ctx, task.ID, name, info.Size(), meter); err != nil {
		if p.abort.Aborted() {
			return ErrAborted
		}
		return fmt.Errorf("failed to upload %s: %w", task.Path, err)
	}
	return nil
}

// pausableReader gives local-source uploads the same cooperative suspension
// the ranged stream gives downloads: a paused task blocks between reads
// instead of pushing more bytes, and abort unblocks the wait.
type pausableReader struct {
	r     io.Reader
	pause *Signal
	abort *Abort
}

func (p *pausableReader) Read(b []byte) (int, error) {
	if p.abort != nil && p.abort.Aborted() {
		return 0, ErrAborted
	}
	if p.pause != nil && p.pause.Paused() {
		ctx := context.Background()
		if p.abort != nil {
			var cancel context.CancelFunc
			ctx, cancel = p.abort.Context(ctx)
			defer cancel()
		}
		if err := p.pause.AwaitResumed(ctx); err != nil {
			return 0, ErrAborted
		}
	}
	return p.r.Read(b)
}
