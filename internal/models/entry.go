package models

import "time"

// EntryType discriminates files from directories in normalized listings.
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// Entry is the normalized listing element every namespace (Rec, WebDAV,
// local disk) is reduced to at the API boundary.
type Entry struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Size         int64      `json:"size"`
	Type         EntryType  `json:"type"`
	Creator      string     `json:"creator,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == EntryDirectory
}
