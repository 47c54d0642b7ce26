package transfer

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/reclabs/recbridge/internal/logging"
)

// DownloadProcessor moves a Rec tree onto the local disk. The resume story
// per file is retry-from-scratch: a partial file with the wrong size is
// deleted and rewritten. Byte-level continuation exists only inside one
// attempt, across pause/resume, courtesy of the ranged stream.
type DownloadProcessor struct {
	src    Source
	client *nethttp.Client
	pause  *Signal
	abort  *Abort
	log    *logging.Logger
}

// NewDownloadProcessor wires a Rec source to a task's pause/abort handles.
func NewDownloadProcessor(src Source, client *nethttp.Client, pause *Signal, abort *Abort, log *logging.Logger) *DownloadProcessor {
	if log == nil {
		log = logging.NewServerLogger("download-worker")
	}
	return &DownloadProcessor{src: src, client: client, pause: pause, abort: abort, log: log}
}

func (p *DownloadProcessor) ProcessFolder(ctx context.Context, task WorkerTask) ([]WorkerTask, error) {
	if err := os.MkdirAll(task.Path, 0755); err != nil {
		return nil, Fatalf("failed to create destination folder %s: %w", task.Path, err)
	}

	children, err := p.src.ListChildren(ctx, task.ID, task.DiskType, task.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source folder: %w", err)
	}

	sorted := make([]RemoteEntry, len(children))
	copy(sorted, children)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsDir != sorted[j].IsDir {
			return sorted[i].IsDir
		}
		return sorted[i].Name < sorted[j].Name
	})

	tasks := make([]WorkerTask, 0, len(sorted))
	for _, child := range sorted {
		kind := KindFile
		if child.IsDir {
			kind = KindFolder
		}
		tasks = append(tasks, WorkerTask{
			ID:       child.ID,
			DiskType: task.DiskType,
			GroupID:  task.GroupID,
			Kind:     kind,
			Path:     filepath.Join(task.Path, child.Name),
		})
	}
	return tasks, nil
}

func (p *DownloadProcessor) ProcessFile(ctx context.Context, task WorkerTask, report ReportFunc) error {
	srcSize, err := p.src.FileSize(ctx, task.ID, task.GroupID)
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	if info, err := os.Stat(task.Path); err == nil {
		if info.Size() == srcSize {
			p.log.Debug().Str("path", task.Path).Int64("size", srcSize).Msg("local file up to date, skipping")
			report(task.Path, srcSize, 0)
			return nil
		}
		// Partial artifact from an earlier run; start over.
		if err := os.Remove(task.Path); err != nil {
			return Fatalf("failed to remove partial file %s: %w", task.Path, err)
		}
	}

	url, err := p.src.DownloadURL(ctx, task.ID, task.GroupID)
	if err != nil {
		return fmt.Errorf("failed to get download url: %w", err)
	}

	stream := NewRangedStream(p.client, url, 0, p.pause, p.abort)
	defer stream.Close()
	meter := NewMeter(stream, func(moved, rate int64) {
		report(task.Path, moved, rate)
	})
	defer meter.Close()

	out, err := os.Create(task.Path)
	if err != nil {
		return Fatalf("failed to create %s: %w", task.Path, err)
	}

	_, copyErr := io.Copy(out, meter)
	closeErr := out.Close()

	if copyErr != nil {
		if p.abort.Aborted() {
			return ErrAborted
		}
		return fmt.Errorf("failed to write %s: %w", task.Path, copyErr)
	}
	if closeErr != nil {
		return Fatalf("failed to finalize %s: %w", task.Path, closeErr)
	}
	return nil
}
