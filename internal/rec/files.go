package rec

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/reclabs/recbridge/internal/constants"
	"github.com/reclabs/recbridge/internal/transfer"
)

// RootFolderID is the id of every disk's root folder; the disk type and
// group number select which tree it is the root of.
const RootFolderID = "0"

// rawEntry is a listing element as the API serves it. The display name of a
// file is name + "." + ext when an extension is present.
type rawEntry struct {
	Number         string `json:"number"`
	Name           string `json:"name"`
	FileExt        string `json:"file_ext"`
	Type           string `json:"type"` // "folder" or "file"
	Bytes          int64  `json:"bytes"`
	Creator        string `json:"creater_user_real_name"`
	LastUpdateDate string `json:"last_update_date"`
}

func (e rawEntry) displayName() string {
	if e.Type != "folder" && e.FileExt != "" {
		return e.Name + "." + e.FileExt
	}
	return e.Name
}

func (e rawEntry) modTime() *time.Time {
	if e.LastUpdateDate == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", e.LastUpdateDate)
	if err != nil {
		return nil
	}
	return &t
}

func (e rawEntry) toRemote() transfer.RemoteEntry {
	return transfer.RemoteEntry{
		ID:    e.Number,
		Name:  e.displayName(),
		IsDir: e.Type == "folder",
		Size:  e.Bytes,
	}
}

func diskQuery(diskType transfer.DiskType, groupID string) url.Values {
	q := url.Values{}
	q.Set("disk_type", string(diskType))
	if groupID != "" {
		q.Set("group_number", groupID)
	}
	return q
}

// listRaw fetches the children of a folder, walking the API's pages until
// the reported total is collected.
func (c *Client) listRaw(ctx context.Context, id string, diskType transfer.DiskType, groupID string) ([]rawEntry, error) {
	var out []rawEntry
	for page := 1; page <= constants.MaxPaginationPages; page++ {
		q := diskQuery(diskType, groupID)
		q.Set("page", strconv.Itoa(page))

		var result struct {
			Total int        `json:"total"`
			Datas []rawEntry `json:"datas"`
		}
		if err := c.do(ctx, nethttp.MethodGet, "/folder/content/"+id, q, nil, &result); err != nil {
			return nil, fmt.Errorf("failed to list folder %s: %w", id, err)
		}

		out = append(out, result.Datas...)
		if len(result.Datas) == 0 || len(out) >= result.Total {
			break
		}
	}
	return out, nil
}

// ListChildren fetches the children of a folder in the reduced form the
// worker contract consumes.
func (c *Client) ListChildren(ctx context.Context, id string, diskType transfer.DiskType, groupID string) ([]transfer.RemoteEntry, error) {
	raws, err := c.listRaw(ctx, id, diskType, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]transfer.RemoteEntry, 0, len(raws))
	for _, raw := range raws {
		out = append(out, raw.toRemote())
	}
	return out, nil
}

// FileInfo describes a single Rec object.
type FileInfo struct {
	ID      string
	Name    string
	IsDir   bool
	Bytes   int64
	Creator string
}

// GetFileInfo fetches the metadata of one object.
func (c *Client) GetFileInfo(ctx context.Context, id, groupID string) (FileInfo, error) {
	q := url.Values{}
	if groupID != "" {
		q.Set("group_number", groupID)
	}
	var raw rawEntry
	if err := c.do(ctx, nethttp.MethodGet, "/file/info/"+id, q, nil, &raw); err != nil {
		return FileInfo{}, fmt.Errorf("failed to get file info for %s: %w", id, err)
	}
	return FileInfo{
		ID:      raw.Number,
		Name:    raw.displayName(),
		IsDir:   raw.Type == "folder",
		Bytes:   raw.Bytes,
		Creator: raw.Creator,
	}, nil
}

// FileSize returns the byte size of a file, satisfying the worker contract.
func (c *Client) FileSize(ctx context.Context, id, groupID string) (int64, error) {
	info, err := c.GetFileInfo(ctx, id, groupID)
	if err != nil {
		return 0, err
	}
	return info.Bytes, nil
}

// DownloadURL asks the API to issue a download URL for one file id. The URL
// serves stable content for its lifetime, which the ranged stream relies on.
func (c *Client) DownloadURL(ctx context.Context, id, groupID string) (string, error) {
	body := map[string]interface{}{
		"files_list": []string{id},
	}
	if groupID != "" {
		body["group_number"] = groupID
	}

	urls := make(map[string]string)
	if err := c.do(ctx, nethttp.MethodPost, "/download", nil, body, &urls); err != nil {
		return "", fmt.Errorf("failed to get download url for %s: %w", id, err)
	}
	u, ok := urls[id]
	if !ok || u == "" {
		return "", fmt.Errorf("download url missing for %s", id)
	}
	return u, nil
}

// MkDir creates folders under a parent and returns name -> new folder id.
// Creating a name that already exists is tolerated; the existing folder's
// id is resolved via the parent listing.
func (c *Client) MkDir(ctx context.Context, parentID string, names []string, diskType transfer.DiskType, groupID string) (map[string]string, error) {
	body := map[string]interface{}{
		"parent_number":    parentID,
		"disk_type":        string(diskType),
		"folder_name_list": names,
	}
	if groupID != "" {
		body["group_number"] = groupID
	}

	var result struct {
		Datas []struct {
			Number string `json:"number"`
			Name   string `json:"name"`
		} `json:"datas"`
	}
	err := c.do(ctx, nethttp.MethodPost, "/folder/tree", nil, body, &result)
	if err != nil {
		if IsAuthError(err) {
			return nil, fmt.Errorf("failed to create folders under %s: %w", parentID, err)
		}
		// "already exists" style rejections resolve through the listing.
		ids, rerr := c.resolveFoldersByName(ctx, parentID, names, diskType, groupID)
		if rerr != nil {
			return nil, fmt.Errorf("failed to create folders under %s: %w", parentID, err)
		}
		return ids, nil
	}

	ids := make(map[string]string, len(names))
	for _, d := range result.Datas {
		ids[d.Name] = d.Number
	}
	// Anything the server silently skipped (raced creation) resolves the
	// same way.
	for _, name := range names {
		if _, ok := ids[name]; !ok {
			resolved, rerr := c.resolveFoldersByName(ctx, parentID, []string{name}, diskType, groupID)
			if rerr != nil {
				return nil, rerr
			}
			ids[name] = resolved[name]
		}
	}
	return ids, nil
}

func (c *Client) resolveFoldersByName(ctx context.Context, parentID string, names []string, diskType transfer.DiskType, groupID string) (map[string]string, error) {
	children, err := c.ListChildren(ctx, parentID, diskType, groupID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(names))
	for _, name := range names {
		found := false
		for _, child := range children {
			if child.IsDir && child.Name == name {
				ids[name] = child.ID
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("failed to create folder %s under %s", name, parentID)
		}
	}
	return ids, nil
}

// EnsureFolder creates (or reuses) one named folder under a parent and
// returns its id, satisfying the upload worker contract.
func (c *Client) EnsureFolder(ctx context.Context, parentID, name string, diskType transfer.DiskType, groupID string) (string, error) {
	// Prefer reuse: a restarted upload must land in the same tree.
	children, err := c.ListChildren(ctx, parentID, diskType, groupID)
	if err != nil {
		return "", err
	}
	for _, child := range children {
		if child.IsDir && child.Name == name {
			return child.ID, nil
		}
	}

	ids, err := c.MkDir(ctx, parentID, []string{name}, diskType, groupID)
	if err != nil {
		return "", err
	}
	return ids[name], nil
}

// Rename gives an object a new display name.
func (c *Client) Rename(ctx context.Context, id, newName string, diskType transfer.DiskType, groupID string) error {
	body := map[string]interface{}{
		"number":    id,
		"name":      newName,
		"disk_type": string(diskType),
	}
	if groupID != "" {
		body["group_number"] = groupID
	}
	if err := c.do(ctx, nethttp.MethodPost, "/file/rename", nil, body, nil); err != nil {
		return fmt.Errorf("failed to rename %s: %w", id, err)
	}
	return nil
}

// batch file operation actions
const (
	opRecycle = "recycle"
	opRestore = "restore"
	opDelete  = "delete_completely"
	opMove    = "move"
	opCopy    = "copy"
)

func (c *Client) operation(ctx context.Context, action string, ids []string, diskType transfer.DiskType, groupID, destFolderID string) error {
	body := map[string]interface{}{
		"action":     action,
		"disk_type":  string(diskType),
		"files_list": ids,
	}
	if groupID != "" {
		body["group_number"] = groupID
	}
	if destFolderID != "" {
		body["destination_number"] = destFolderID
	}
	if err := c.do(ctx, nethttp.MethodPost, "/operation_file_id", nil, body, nil); err != nil {
		return fmt.Errorf("operation %s failed: %w", action, err)
	}
	return nil
}

// Recycle moves objects to the recycle bin.
func (c *Client) Recycle(ctx context.Context, ids []string, diskType transfer.DiskType, groupID string) error {
	return c.operation(ctx, opRecycle, ids, diskType, groupID, "")
}

// Restore moves recycle-bin objects back to the personal disk.
func (c *Client) Restore(ctx context.Context, ids []string, groupID string) error {
	return c.operation(ctx, opRestore, ids, transfer.DiskRecycle, groupID, "")
}

// DeleteCompletely permanently removes recycle-bin objects.
func (c *Client) DeleteCompletely(ctx context.Context, ids []string, groupID string) error {
	return c.operation(ctx, opDelete, ids, transfer.DiskRecycle, groupID, "")
}

// Move relocates objects into destFolderID within the same disk.
func (c *Client) Move(ctx context.Context, ids []string, destFolderID string, diskType transfer.DiskType, groupID string) error {
	return c.operation(ctx, opMove, ids, diskType, groupID, destFolderID)
}

// Copy duplicates objects into destFolderID within the same disk.
func (c *Client) Copy(ctx context.Context, ids []string, destFolderID string, diskType transfer.DiskType, groupID string) error {
	return c.operation(ctx, opCopy, ids, diskType, groupID, destFolderID)
}

// SaveToDisk copies group-disk content into a personal-disk folder.
func (c *Client) SaveToDisk(ctx context.Context, groupID string, ids []string, destFolderID string) error {
	body := map[string]interface{}{
		"group_number":       groupID,
		"files_list":         ids,
		"destination_number": destFolderID,
	}
	if err := c.do(ctx, nethttp.MethodPost, "/save_to_disk", nil, body, nil); err != nil {
		return fmt.Errorf("failed to save group content: %w", err)
	}
	return nil
}

// Capacity is a disk's quota usage in bytes.
type Capacity struct {
	TotalSpace int64 `json:"total_space"`
	UsedSpace  int64 `json:"used_space"`
}

// GetCapacity fetches quota usage for a disk.
func (c *Client) GetCapacity(ctx context.Context, diskType transfer.DiskType) (Capacity, error) {
	q := url.Values{}
	q.Set("disk_type", string(diskType))
	var usage Capacity
	if err := c.do(ctx, nethttp.MethodGet, "/capacity", q, nil, &usage); err != nil {
		return Capacity{}, fmt.Errorf("failed to get capacity: %w", err)
	}
	return usage, nil
}

// Group is one group disk the user belongs to.
type Group struct {
	ID   string `json:"group_number"`
	Name string `json:"group_name"`
}

// Groups lists the group disks available to the user.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var result struct {
		Datas []Group `json:"datas"`
	}
	if err := c.do(ctx, nethttp.MethodGet, "/groups", nil, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return result.Datas, nil
}
