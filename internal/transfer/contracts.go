package transfer

import (
	"context"
	"io"
)

// DiskType discriminates the Rec-side namespaces a worker task can point at.
type DiskType string

const (
	DiskPersonal DiskType = "personal"
	DiskBackup   DiskType = "backup"
	DiskRecycle  DiskType = "recycle"
)

// Kind discriminates folder expansion from file movement.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// WorkerTask is the ephemeral leaf unit a worker processes: one folder
// expansion or one file copy. A folder task yields zero or more child tasks;
// a file task yields none. Path strings are unique across a task tree.
//
// The meaning of ID and Path depends on the worker variant:
//   - transfer:  ID is the Rec object, Path the WebDAV destination
//   - download:  ID is the Rec object, Path the local destination
//   - upload:    ID is the Rec destination folder, Path the local source
type WorkerTask struct {
	ID       string
	DiskType DiskType
	GroupID  string
	Kind     Kind
	Path     string
}

// RemoteEntry is one child of a Rec folder as the workers see it. Name
// already includes the file extension when present.
type RemoteEntry struct {
	ID    string
	Name  string
	IsDir bool
	Size  int64
}

// Source is the Rec-side contract the transfer and download workers consume:
// authenticated listing, per-id size lookup and download URL issuance.
type Source interface {
	ListChildren(ctx context.Context, id string, diskType DiskType, groupID string) ([]RemoteEntry, error)
	FileSize(ctx context.Context, id, groupID string) (int64, error)
	DownloadURL(ctx context.Context, id, groupID string) (string, error)
}

// UploadTarget is the Rec-side contract the upload worker consumes. EnsureFolder
// prefers reusing an existing same-named folder at the same level and returns
// its id either way. Upload streams r (already metered and pause-aware) into
// folderID under name, overwriting an existing file.
type UploadTarget interface {
	ListChildren(ctx context.Context, id string, diskType DiskType, groupID string) ([]RemoteEntry, error)
	EnsureFolder(ctx context.Context, parentID, name string, diskType DiskType, groupID string) (string, error)
	Upload(ctx context.Context, folderID, name string, size int64, r io.Reader) error
}

// DavTarget is the WebDAV contract the transfer worker consumes.
type DavTarget interface {
	Exists(path string) (bool, error)
	Size(path string) (int64, error)
	EnsureDir(path string) error
	WriteStream(path string, r io.Reader) error
	Delete(path string) error
}

// ReportFunc lets a processor publish per-file progress while it moves
// bytes: the path being worked on, bytes moved for that file so far, and the
// smoothed instantaneous rate.
type ReportFunc func(path string, transferred, rate int64)

// Processor is the variant-specific half of a worker: folder expansion and
// single-file movement. The pool mechanics around it are identical for all
// three variants.
type Processor interface {
	ProcessFolder(ctx context.Context, task WorkerTask) ([]WorkerTask, error)
	ProcessFile(ctx context.Context, task WorkerTask, report ReportFunc) error
}
