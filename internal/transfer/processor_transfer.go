package transfer

import (
	"context"
	"fmt"
	nethttp "net/http"
	"sort"

	"github.com/reclabs/recbridge/internal/logging"
	"github.com/reclabs/recbridge/internal/pathutil"
)

// TransferProcessor moves a Rec tree onto a WebDAV endpoint. Folder tasks
// materialize the destination directory and expand into child tasks; file
// tasks pipe a pausable ranged read through a meter into a WebDAV PUT.
type TransferProcessor struct {
	src    Source
	dav    DavTarget
	client *nethttp.Client
	pause  *Signal
	abort  *Abort
	log    *logging.Logger
}

// NewTransferProcessor wires a Rec source and WebDAV target to a task's
// pause/abort handles. client carries the ranged byte streams.
func NewTransferProcessor(src Source, dav DavTarget, client *nethttp.Client, pause *Signal, abort *Abort, log *logging.Logger) *TransferProcessor {
	if log == nil {
		log = logging.NewServerLogger("transfer-worker")
	}
	return &TransferProcessor{src: src, dav: dav, client: client, pause: pause, abort: abort, log: log}
}

func (p *TransferProcessor) ProcessFolder(ctx context.Context, task WorkerTask) ([]WorkerTask, error) {
	// Creating an existing collection is tolerated; idempotence lets a
	// restarted task walk the same tree again.
	if err := p.dav.EnsureDir(task.Path); err != nil {
		return nil, fmt.Errorf("failed to create destination folder: %w", err)
	}

	children, err := p.src.ListChildren(ctx, task.ID, task.DiskType, task.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source folder: %w", err)
	}

	return expandChildren(task, children), nil
}

func (p *TransferProcessor) ProcessFile(ctx context.Context, task WorkerTask, report ReportFunc) error {
	url, err := p.src.DownloadURL(ctx, task.ID, task.GroupID)
	if err != nil {
		return fmt.Errorf("failed to get download url: %w", err)
	}

	srcSize, err := p.src.FileSize(ctx, task.ID, task.GroupID)
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	// Skip-if-same-size: repeated runs do no I/O on already-complete files.
	exists, err := p.dav.Exists(task.Path)
	if err != nil {
		return fmt.Errorf("failed to check destination: %w", err)
	}
	if exists {
		size, err := p.dav.Size(task.Path)
		if err == nil && size == srcSize {
			p.log.Debug().Str("path", task.Path).Int64("size", size).Msg("destination up to date, skipping")
			report(task.Path, size, 0)
			return nil
		}
	}

	stream := NewRangedStream(p.client, url, 0, p.pause, p.abort)
	defer stream.Close()
	meter := NewMeter(stream, func(moved, rate int64) {
		report(task.Path, moved, rate)
	})
	defer meter.Close()

	if err := p.dav.WriteStream(task.Path, meter); err != nil {
		if p.abort.Aborted() {
			return ErrAborted
		}
		return fmt.Errorf("failed to write %s: %w", task.Path, err)
	}
	return nil
}

// expandChildren maps a folder's remote children onto worker tasks,
// folders first then alphabetical, so progress through a tree is
// predictable.
func expandChildren(parent WorkerTask, children []RemoteEntry) []WorkerTask {
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
			DiskType: parent.DiskType,
			GroupID:  parent.GroupID,
			Kind:     kind,
			Path:     pathutil.Join(parent.Path, child.Name),
		})
	}
	return tasks
}
