package rec

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/reclabs/recbridge/internal/models"
	"github.com/reclabs/recbridge/internal/pathutil"
	"github.com/reclabs/recbridge/internal/transfer"
)

// Namespace roots of the Rec virtual filesystem.
const (
	rootCloud   = "cloud"   // personal disk
	rootBackup  = "backup"  // backup disk
	rootRecycle = "recycle" // recycle bin
	rootGroup   = "group"   // group disks, one subtree per group name
)

// duConcurrency bounds the parallel listing calls of a size probe.
const duConcurrency = 8

// Resolved is the outcome of mapping a user path onto a Rec object.
type Resolved struct {
	ID       string
	DiskType transfer.DiskType
	GroupID  string
	IsDir    bool
	Size     int64
	Name     string
	// synthetic marks the virtual layers that exist only in the path
	// scheme: "/", "/group" and the namespace roots themselves.
	synthetic bool
}

// FS is the Rec virtual filesystem: it resolves slash paths like
// /cloud/papers/a.pdf or /group/lab42/data onto (id, diskType, groupId)
// tuples, and carries a per-session working directory. One FS exists per
// session; it is safe for concurrent use.
type FS struct {
	client *Client

	mu     sync.Mutex
	cwd    string
	groups map[string]string // group name -> group number, cached
}

// NewFS creates a virtual filesystem over an authenticated client, rooted
// at "/".
func NewFS(client *Client) *FS {
	return &FS{client: client, cwd: "/"}
}

// Client exposes the underlying API client.
func (fs *FS) Client() *Client { return fs.client }

// Pwd returns the session's current directory.
func (fs *FS) Pwd() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.cwd
}

// Cd changes the session's current directory after verifying the target is
// a directory.
func (fs *FS) Cd(ctx context.Context, path string) error {
	abs := fs.abs(path)
	res, err := fs.Resolve(ctx, abs)
	if err != nil {
		return err
	}
	if !res.IsDir {
		return fmt.Errorf("%s is not a directory", abs)
	}
	fs.mu.Lock()
	fs.cwd = abs
	fs.mu.Unlock()
	return nil
}

// abs resolves a possibly-relative path against the session cwd.
func (fs *FS) abs(path string) string {
	fs.mu.Lock()
	cwd := fs.cwd
	fs.mu.Unlock()
	return pathutil.Resolve(cwd, path)
}

// groupID resolves a group disk by display name, caching the group list.
func (fs *FS) groupID(ctx context.Context, name string) (string, error) {
	fs.mu.Lock()
	cached := fs.groups
	fs.mu.Unlock()

	if cached == nil {
		groups, err := fs.client.Groups(ctx)
		if err != nil {
			return "", err
		}
		cached = make(map[string]string, len(groups))
		for _, g := range groups {
			cached[g.Name] = g.ID
		}
		fs.mu.Lock()
		fs.groups = cached
		fs.mu.Unlock()
	}

	id, ok := cached[name]
	if !ok {
		return "", fmt.Errorf("/group/%s not found", name)
	}
	return id, nil
}

// Resolve maps a path onto a Rec object, walking the tree segment by
// segment via listings. Relative paths resolve against the session cwd.
func (fs *FS) Resolve(ctx context.Context, path string) (Resolved, error) {
	abs := fs.abs(path)
	segs := pathutil.Split(abs)

	if len(segs) == 0 {
		return Resolved{IsDir: true, Name: "/", synthetic: true}, nil
	}

	var cur Resolved
	var rest []string
	switch segs[0] {
	case rootCloud:
		cur = Resolved{ID: RootFolderID, DiskType: transfer.DiskPersonal, IsDir: true, Name: rootCloud}
		rest = segs[1:]
	case rootBackup:
		cur = Resolved{ID: RootFolderID, DiskType: transfer.DiskBackup, IsDir: true, Name: rootBackup}
		rest = segs[1:]
	case rootRecycle:
		cur = Resolved{ID: RootFolderID, DiskType: transfer.DiskRecycle, IsDir: true, Name: rootRecycle}
		rest = segs[1:]
	case rootGroup:
		if len(segs) == 1 {
			return Resolved{IsDir: true, Name: rootGroup, synthetic: true}, nil
		}
		gid, err := fs.groupID(ctx, segs[1])
		if err != nil {
			return Resolved{}, err
		}
		cur = Resolved{ID: RootFolderID, DiskType: transfer.DiskPersonal, GroupID: gid, IsDir: true, Name: segs[1]}
		rest = segs[2:]
	default:
		return Resolved{}, fmt.Errorf("%s not found", abs)
	}
	if len(rest) == 0 {
		return cur, nil
	}

	for _, seg := range rest {
		if !cur.IsDir {
			return Resolved{}, fmt.Errorf("%s not found", abs)
		}
		children, err := fs.client.ListChildren(ctx, cur.ID, cur.DiskType, cur.GroupID)
		if err != nil {
			return Resolved{}, err
		}
		found := false
		for _, child := range children {
			if child.Name == seg {
				cur.ID = child.ID
				cur.IsDir = child.IsDir
				cur.Size = child.Size
				cur.Name = child.Name
				cur.synthetic = false
				found = true
				break
			}
		}
		if !found {
			return Resolved{}, fmt.Errorf("%s not found", abs)
		}
	}
	return cur, nil
}

// List returns the normalized children of a directory. The virtual layers
// ("/" and "/group") list their synthetic entries.
func (fs *FS) List(ctx context.Context, path string) ([]models.Entry, error) {
	abs := fs.abs(path)
	segs := pathutil.Split(abs)

	if len(segs) == 0 {
		return []models.Entry{
			{ID: "/" + rootCloud, Name: rootCloud, Type: models.EntryDirectory},
			{ID: "/" + rootBackup, Name: rootBackup, Type: models.EntryDirectory},
			{ID: "/" + rootRecycle, Name: rootRecycle, Type: models.EntryDirectory},
			{ID: "/" + rootGroup, Name: rootGroup, Type: models.EntryDirectory},
		}, nil
	}
	if len(segs) == 1 && segs[0] == rootGroup {
		groups, err := fs.client.Groups(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]models.Entry, 0, len(groups))
		for _, g := range groups {
			entries = append(entries, models.Entry{
				ID:   pathutil.Join("/", rootGroup, g.Name),
				Name: g.Name,
				Type: models.EntryDirectory,
			})
		}
		return entries, nil
	}

	res, err := fs.Resolve(ctx, abs)
	if err != nil {
		return nil, err
	}
	if !res.IsDir {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	return fs.listResolved(ctx, res)
}

func (fs *FS) listResolved(ctx context.Context, res Resolved) ([]models.Entry, error) {
	// The listing needs the raw entries for creator and modification
	// metadata, so it calls the paged API directly.
	var entries []models.Entry
	children, err := fs.client.listRaw(ctx, res.ID, res.DiskType, res.GroupID)
	if err != nil {
		return nil, err
	}
	for _, raw := range children {
		typ := models.EntryFile
		if raw.Type == "folder" {
			typ = models.EntryDirectory
		}
		entries = append(entries, models.Entry{
			ID:           raw.Number,
			Name:         raw.displayName(),
			Size:         raw.Bytes,
			Type:         typ,
			Creator:      raw.Creator,
			LastModified: raw.modTime(),
		})
	}
	sortEntries(entries)
	return entries, nil
}

// Mkdir creates a directory at path. Parents must exist; creating an
// existing directory is not an error.
func (fs *FS) Mkdir(ctx context.Context, path string) error {
	abs := fs.abs(path)
	parent, err := fs.Resolve(ctx, pathutil.Parent(abs))
	if err != nil {
		return err
	}
	if parent.synthetic {
		return fmt.Errorf("cannot create directories under %s", pathutil.Parent(abs))
	}
	_, err = fs.client.EnsureFolder(ctx, parent.ID, pathutil.Base(abs), parent.DiskType, parent.GroupID)
	return err
}

// Rename changes the display name of the object at path.
func (fs *FS) Rename(ctx context.Context, path, newName string) error {
	res, err := fs.resolveConcrete(ctx, path)
	if err != nil {
		return err
	}
	return fs.client.Rename(ctx, res.ID, newName, res.DiskType, res.GroupID)
}

// Recycle moves the object at path into the recycle bin.
func (fs *FS) Recycle(ctx context.Context, path string) error {
	res, err := fs.resolveConcrete(ctx, path)
	if err != nil {
		return err
	}
	return fs.client.Recycle(ctx, []string{res.ID}, res.DiskType, res.GroupID)
}

// Restore moves a recycle-bin object back to the personal disk.
func (fs *FS) Restore(ctx context.Context, path string) error {
	res, err := fs.resolveConcrete(ctx, path)
	if err != nil {
		return err
	}
	if res.DiskType != transfer.DiskRecycle {
		return fmt.Errorf("%s is not in the recycle bin", fs.abs(path))
	}
	return fs.client.Restore(ctx, []string{res.ID}, res.GroupID)
}

// Delete permanently removes a recycle-bin object.
func (fs *FS) Delete(ctx context.Context, path string) error {
	res, err := fs.resolveConcrete(ctx, path)
	if err != nil {
		return err
	}
	if res.DiskType != transfer.DiskRecycle {
		return fmt.Errorf("%s is not in the recycle bin; recycle it first", fs.abs(path))
	}
	return fs.client.DeleteCompletely(ctx, []string{res.ID}, res.GroupID)
}

// Unwrap moves the children of the folder at path into its parent, then
// recycles the emptied folder.
func (fs *FS) Unwrap(ctx context.Context, path string) error {
	abs := fs.abs(path)
	res, err := fs.resolveConcrete(ctx, abs)
	if err != nil {
		return err
	}
	if !res.IsDir {
		return fmt.Errorf("%s is not a directory", abs)
	}
	parent, err := fs.Resolve(ctx, pathutil.Parent(abs))
	if err != nil {
		return err
	}

	children, err := fs.client.ListChildren(ctx, res.ID, res.DiskType, res.GroupID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		ids := make([]string, 0, len(children))
		for _, child := range children {
			ids = append(ids, child.ID)
		}
		if err := fs.client.Move(ctx, ids, parent.ID, res.DiskType, res.GroupID); err != nil {
			return err
		}
	}
	return fs.client.Recycle(ctx, []string{res.ID}, res.DiskType, res.GroupID)
}

// Save copies group-disk content at srcPath into the personal-disk folder
// at dstPath.
func (fs *FS) Save(ctx context.Context, srcPath, dstPath string) error {
	src, err := fs.resolveConcrete(ctx, srcPath)
	if err != nil {
		return err
	}
	if src.GroupID == "" {
		return fmt.Errorf("%s is not on a group disk", fs.abs(srcPath))
	}
	dst, err := fs.resolveConcrete(ctx, dstPath)
	if err != nil {
		return err
	}
	if !dst.IsDir || dst.DiskType != transfer.DiskPersonal || dst.GroupID != "" {
		return fmt.Errorf("%s is not a personal-disk folder", fs.abs(dstPath))
	}
	return fs.client.SaveToDisk(ctx, src.GroupID, []string{src.ID}, dst.ID)
}

// DiskFree is quota usage for one disk.
type DiskFree struct {
	Disk  transfer.DiskType `json:"disk"`
	Total int64             `json:"total"`
	Used  int64             `json:"used"`
}

// Df reports quota usage for the personal and backup disks.
func (fs *FS) Df(ctx context.Context) ([]DiskFree, error) {
	var out []DiskFree
	for _, disk := range []transfer.DiskType{transfer.DiskPersonal, transfer.DiskBackup} {
		usage, err := fs.client.GetCapacity(ctx, disk)
		if err != nil {
			return nil, err
		}
		out = append(out, DiskFree{Disk: disk, Total: usage.TotalSpace, Used: usage.UsedSpace})
	}
	return out, nil
}

// Du probes the recursive byte size under path, breadth-first with bounded
// parallel listings.
func (fs *FS) Du(ctx context.Context, path string) (int64, error) {
	res, err := fs.Resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	if !res.IsDir {
		return res.Size, nil
	}
	if res.synthetic {
		return 0, fmt.Errorf("%s cannot be sized", fs.abs(path))
	}

	var total int64
	var totalMu sync.Mutex
	level := []string{res.ID}

	for len(level) > 0 {
		var next []string
		var nextMu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(duConcurrency)
		for _, id := range level {
			id := id
			g.Go(func() error {
				children, err := fs.client.ListChildren(gctx, id, res.DiskType, res.GroupID)
				if err != nil {
					return err
				}
				var bytes int64
				var dirs []string
				for _, child := range children {
					if child.IsDir {
						dirs = append(dirs, child.ID)
					} else {
						bytes += child.Size
					}
				}
				totalMu.Lock()
				total += bytes
				totalMu.Unlock()
				nextMu.Lock()
				next = append(next, dirs...)
				nextMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
		level = next
	}
	return total, nil
}

// RootTask resolves path into the seed worker task of a transfer, plus the
// object's display name for building the destination path.
func (fs *FS) RootTask(ctx context.Context, path string) (transfer.WorkerTask, string, error) {
	res, err := fs.resolveConcrete(ctx, path)
	if err != nil {
		return transfer.WorkerTask{}, "", err
	}
	kind := transfer.KindFile
	if res.IsDir {
		kind = transfer.KindFolder
	}
	return transfer.WorkerTask{
		ID:       res.ID,
		DiskType: res.DiskType,
		GroupID:  res.GroupID,
		Kind:     kind,
	}, res.Name, nil
}

// ResolveFolder resolves path and requires a concrete directory, the shape
// transfer destinations must have.
func (fs *FS) ResolveFolder(ctx context.Context, path string) (Resolved, error) {
	res, err := fs.resolveConcrete(ctx, path)
	if err != nil {
		return Resolved{}, err
	}
	if !res.IsDir {
		return Resolved{}, fmt.Errorf("%s is not a directory", fs.abs(path))
	}
	return res, nil
}

// resolveConcrete resolves a path and rejects the synthetic virtual layers
// that have no Rec object behind them.
func (fs *FS) resolveConcrete(ctx context.Context, path string) (Resolved, error) {
	res, err := fs.Resolve(ctx, path)
	if err != nil {
		return Resolved{}, err
	}
	if res.synthetic {
		return Resolved{}, fmt.Errorf("%s is a virtual directory", fs.abs(path))
	}
	return res, nil
}

// sortEntries orders directories first, then by name, matching every other
// namespace.
func sortEntries(entries []models.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name < entries[j].Name
	})
}
