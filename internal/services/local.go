package services

import (
	"os"
	"sync"

	"github.com/reclabs/recbridge/internal/localfs"
	"github.com/reclabs/recbridge/internal/models"
	"github.com/reclabs/recbridge/internal/pathutil"
)

// LocalBrowser exposes the local filesystem to a session: a working
// directory plus listings normalized to the shared entry shape. Hidden files
// are filtered from listings but never from transfers.
type LocalBrowser struct {
	mu  sync.Mutex
	cwd string
}

// NewLocalBrowser creates a browser rooted at the user's home directory,
// falling back to the process working directory.
func NewLocalBrowser() *LocalBrowser {
	cwd, err := os.UserHomeDir()
	if err != nil {
		cwd, _ = os.Getwd()
	}
	return &LocalBrowser{cwd: cwd}
}

// Pwd returns the session's local working directory.
func (b *LocalBrowser) Pwd() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cwd
}

// Cd changes the working directory; the target must exist and be a
// directory.
func (b *LocalBrowser) Cd(path string) error {
	abs, err := b.Resolve(path, true)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.cwd = abs
	b.mu.Unlock()
	return nil
}

// Resolve maps a possibly-relative path onto an absolute local path,
// expanding ~ and requiring existence.
func (b *LocalBrowser) Resolve(path string, mustBeDir bool) (string, error) {
	b.mu.Lock()
	cwd := b.cwd
	b.mu.Unlock()
	return pathutil.ResolveLocal(cwd, path, mustBeDir)
}

// List returns the children of a local directory, directories first.
func (b *LocalBrowser) List(path string, showHidden bool) ([]models.Entry, error) {
	abs, err := b.Resolve(path, true)
	if err != nil {
		return nil, err
	}
	files, err := localfs.List(abs, localfs.ListOptions{IncludeHidden: showHidden})
	if err != nil {
		return nil, err
	}
	entries := make([]models.Entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, entryFromFile(f))
	}
	return entries, nil
}

// Stat returns the entry for one local path.
func (b *LocalBrowser) Stat(path string) (models.Entry, error) {
	abs, err := b.Resolve(path, false)
	if err != nil {
		return models.Entry{}, err
	}
	f, err := localfs.Stat(abs)
	if err != nil {
		return models.Entry{}, err
	}
	return entryFromFile(f), nil
}

// Du sums the regular files under a local path, hidden entries included.
func (b *LocalBrowser) Du(path string) (int64, error) {
	abs, err := b.Resolve(path, false)
	if err != nil {
		return 0, err
	}
	_, size, err := localfs.DiskUsage(abs)
	return size, err
}

func entryFromFile(f localfs.FileEntry) models.Entry {
	typ := models.EntryFile
	if f.IsDir {
		typ = models.EntryDirectory
	}
	entry := models.Entry{
		ID:   f.Path,
		Name: f.Name,
		Size: f.Size,
		Type: typ,
	}
	if !f.ModTime.IsZero() {
		mod := f.ModTime
		entry.LastModified = &mod
	}
	return entry
}
