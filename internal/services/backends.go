// Package services provides frontend-agnostic business logic shared by the
// REST server and the CLI: transfer backends binding a session's
// collaborators to the orchestration engine, and namespace browsing helpers.
package services

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/reclabs/recbridge/internal/config"
	"github.com/reclabs/recbridge/internal/constants"
	"github.com/reclabs/recbridge/internal/diskspace"
	"github.com/reclabs/recbridge/internal/localfs"
	"github.com/reclabs/recbridge/internal/logging"
	"github.com/reclabs/recbridge/internal/pathutil"
	"github.com/reclabs/recbridge/internal/rec"
	"github.com/reclabs/recbridge/internal/transfer"
	"github.com/reclabs/recbridge/internal/webdav"
)

// Deps are the per-session collaborators a transfer backend draws on. Dav is
// nil until the session has stored WebDAV credentials; Local carries the
// session's local working directory. Workers overrides the per-type pool
// sizes; zero keeps the defaults.
type Deps struct {
	RecFS   *rec.FS
	Dav     *webdav.Client
	Local   *LocalBrowser
	Log     *logging.Logger
	Workers config.WorkerConfig
}

// NewBackend returns the backend implementing one transfer type over the
// session's collaborators.
func NewBackend(taskType transfer.Type, deps Deps) (transfer.Backend, error) {
	if deps.Log == nil {
		deps.Log = logging.NewServerLogger("backend")
	}
	switch taskType {
	case transfer.TypeWebDAV:
		if deps.Dav == nil {
			return nil, fmt.Errorf("webdav credentials not configured")
		}
		return &transferBackend{deps: deps}, nil
	case transfer.TypeDisk:
		return &downloadBackend{deps: deps}, nil
	case transfer.TypeUpload:
		return &uploadBackend{deps: deps}, nil
	default:
		return nil, fmt.Errorf("unknown transfer type %q", taskType)
	}
}

// probeSize sizes the Rec subtree under srcPath. A failed probe is tolerated:
// the transfer still runs, it just reports progress without a known total.
func probeSize(ctx context.Context, fs *rec.FS, srcPath string, log *logging.Logger) int64 {
	total, err := fs.Du(ctx, srcPath)
	if err != nil {
		log.Warn().Err(err).Str("path", srcPath).Msg("size probe failed, continuing without a total")
		return 0
	}
	return total
}

func poolSize(kind transfer.Kind, folderWorkers, override int) int {
	if kind == transfer.KindFile {
		return constants.SingleFileWorkers
	}
	if override > 0 {
		return override
	}
	return folderWorkers
}

// transferBackend moves a Rec subtree onto the WebDAV endpoint.
type transferBackend struct {
	deps Deps
}

func (b *transferBackend) Prepare(ctx context.Context, srcPath, dstPath string) (transfer.Plan, error) {
	root, name, err := b.deps.RecFS.RootTask(ctx, srcPath)
	if err != nil {
		return transfer.Plan{}, err
	}

	dst := pathutil.Normalize(dstPath)
	entry, err := b.deps.Dav.Stat(dst)
	if err != nil {
		return transfer.Plan{}, fmt.Errorf("%s not found", dst)
	}
	if !entry.IsDir() {
		return transfer.Plan{}, fmt.Errorf("%s is not a directory", dst)
	}

	root.Path = pathutil.Join(dst, name)
	return transfer.Plan{
		Root:      root,
		TotalSize: probeSize(ctx, b.deps.RecFS, srcPath, b.deps.Log),
		Workers:   poolSize(root.Kind, constants.TransferWorkers, b.deps.Workers.Transfer),
	}, nil
}

func (b *transferBackend) Processor(pause *transfer.Signal, abort *transfer.Abort) transfer.Processor {
	client := b.deps.RecFS.Client()
	return transfer.NewTransferProcessor(client, b.deps.Dav, client.StreamClient(), pause, abort, b.deps.Log.Child("transfer"))
}

// downloadBackend moves a Rec subtree onto the local disk.
type downloadBackend struct {
	deps Deps
}

func (b *downloadBackend) Prepare(ctx context.Context, srcPath, dstPath string) (transfer.Plan, error) {
	root, name, err := b.deps.RecFS.RootTask(ctx, srcPath)
	if err != nil {
		return transfer.Plan{}, err
	}

	localDir, err := b.deps.Local.Resolve(dstPath, true)
	if err != nil {
		return transfer.Plan{}, err
	}

	total := probeSize(ctx, b.deps.RecFS, srcPath, b.deps.Log)
	if total > 0 {
		if err := diskspace.CheckAvailableSpace(localDir, total, constants.DiskSpaceBufferPercent); err != nil {
			return transfer.Plan{}, err
		}
	}

	root.Path = filepath.Join(localDir, name)
	return transfer.Plan{
		Root:      root,
		TotalSize: total,
		Workers:   poolSize(root.Kind, constants.DownloadWorkers, b.deps.Workers.Download),
	}, nil
}

func (b *downloadBackend) Processor(pause *transfer.Signal, abort *transfer.Abort) transfer.Processor {
	client := b.deps.RecFS.Client()
	return transfer.NewDownloadProcessor(client, client.StreamClient(), pause, abort, b.deps.Log.Child("download"))
}

// uploadBackend moves a local subtree onto a Rec disk.
type uploadBackend struct {
	deps Deps
}

func (b *uploadBackend) Prepare(ctx context.Context, srcPath, dstPath string) (transfer.Plan, error) {
	localPath, err := b.deps.Local.Resolve(srcPath, false)
	if err != nil {
		return transfer.Plan{}, err
	}
	entry, err := localfs.Stat(localPath)
	if err != nil {
		return transfer.Plan{}, fmt.Errorf("%s not found", localPath)
	}

	dst, err := b.deps.RecFS.ResolveFolder(ctx, dstPath)
	if err != nil {
		return transfer.Plan{}, err
	}
	if dst.DiskType == transfer.DiskRecycle {
		return transfer.Plan{}, fmt.Errorf("cannot upload into the recycle bin")
	}

	var total int64
	if entry.IsDir {
		_, total, err = localfs.DiskUsage(localPath)
		if err != nil {
			b.deps.Log.Warn().Err(err).Str("path", localPath).Msg("size probe failed, continuing without a total")
			total = 0
		}
	} else {
		total = entry.Size
	}

	kind := transfer.KindFile
	if entry.IsDir {
		kind = transfer.KindFolder
	}
	root := transfer.WorkerTask{
		ID:       dst.ID,
		DiskType: dst.DiskType,
		GroupID:  dst.GroupID,
		Kind:     kind,
		Path:     localPath,
	}
	return transfer.Plan{
		Root:      root,
		TotalSize: total,
		Workers:   poolSize(kind, constants.UploadWorkers, b.deps.Workers.Upload),
	}, nil
}

func (b *uploadBackend) Processor(pause *transfer.Signal, abort *transfer.Abort) transfer.Processor {
	return transfer.NewUploadProcessor(b.deps.RecFS.Client(), pause, abort, b.deps.Log.Child("upload"))
}
