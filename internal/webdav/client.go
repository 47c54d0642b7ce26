// Package webdav adapts a PanDav (WebDAV) endpoint to the normalized
// listing and write operations the REST layer and transfer workers use.
package webdav

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/studio-b12/gowebdav"

	rechttp "github.com/reclabs/recbridge/internal/http"
	"github.com/reclabs/recbridge/internal/models"
	"github.com/reclabs/recbridge/internal/pathutil"
)

// Client wraps a gowebdav session. WebDAV is only ever a transfer
// destination, so the surface is listings, directory creation and PUTs,
// plus the management verbs the /pandav/* routes expose.
type Client struct {
	dav *gowebdav.Client
}

// New creates a client for the given endpoint. The transport is the shared
// stream transport: PUTs carry file bytes and must not be subject to a
// total-request timeout.
func New(baseURL, account, password string) *Client {
	dav := gowebdav.NewClient(baseURL, account, password)
	dav.SetTransport(rechttp.NewStreamTransport())
	return &Client{dav: dav}
}

// List returns the children of a directory, sorted directories first then
// by name.
func (c *Client) List(path string) ([]models.Entry, error) {
	path = pathutil.Normalize(path)
	infos, err := c.dav.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}

	entries := make([]models.Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, entryFromInfo(path, info))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// Stat returns the entry for a single path.
func (c *Client) Stat(path string) (models.Entry, error) {
	path = pathutil.Normalize(path)
	info, err := c.dav.Stat(path)
	if err != nil {
		return models.Entry{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return entryFromInfo(pathutil.Parent(path), info), nil
}

// Exists reports whether a path exists on the endpoint.
func (c *Client) Exists(path string) (bool, error) {
	_, err := c.dav.Stat(pathutil.Normalize(path))
	if err == nil {
		return true, nil
	}
	if gowebdav.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// Size returns the byte size of the file at path.
func (c *Client) Size(path string) (int64, error) {
	path = pathutil.Normalize(path)
	info, err := c.dav.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// EnsureDir creates a directory, tolerating one that already exists.
// Servers answer MKCOL on an existing collection with 405 or 409 depending
// on the implementation; both are swallowed.
func (c *Client) EnsureDir(path string) error {
	err := c.dav.Mkdir(pathutil.Normalize(path), 0755)
	if err == nil || gowebdav.IsErrCode(err, 405) || gowebdav.IsErrCode(err, 409) {
		return nil
	}
	return fmt.Errorf("failed to create directory %s: %w", path, err)
}

// EnsureDirAll creates a directory and any missing parents.
func (c *Client) EnsureDirAll(path string) error {
	err := c.dav.MkdirAll(pathutil.Normalize(path), 0755)
	if err == nil || gowebdav.IsErrCode(err, 405) || gowebdav.IsErrCode(err, 409) {
		return nil
	}
	return fmt.Errorf("failed to create directory %s: %w", path, err)
}

// WriteStream PUTs the reader's bytes to path, overwriting any existing
// file. Cancellation propagates through the reader: an aborted source
// stream fails the read and with it the request.
func (c *Client) WriteStream(path string, r io.Reader) error {
	if err := c.dav.WriteStream(pathutil.Normalize(path), r, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Delete removes a file or directory tree. Missing paths are not an error.
func (c *Client) Delete(path string) error {
	if err := c.dav.RemoveAll(pathutil.Normalize(path)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Rename moves a file or directory.
func (c *Client) Rename(oldPath, newPath string, overwrite bool) error {
	err := c.dav.Rename(pathutil.Normalize(oldPath), pathutil.Normalize(newPath), overwrite)
	if err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// Copy duplicates a file or directory.
func (c *Client) Copy(srcPath, destPath string, overwrite bool) error {
	err := c.dav.Copy(pathutil.Normalize(srcPath), pathutil.Normalize(destPath), overwrite)
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcPath, destPath, err)
	}
	return nil
}

func entryFromInfo(parent string, info os.FileInfo) models.Entry {
	typ := models.EntryFile
	if info.IsDir() {
		typ = models.EntryDirectory
	}
	entry := models.Entry{
		ID:   pathutil.Join(parent, info.Name()),
		Name: info.Name(),
		Size: info.Size(),
		Type: typ,
	}
	if mod := info.ModTime(); !mod.IsZero() {
		entry.LastModified = &mod
	}
	return entry
}
