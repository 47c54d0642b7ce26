// Package pathutil provides path resolution shared by the Rec, WebDAV and
// local namespaces. Remote namespaces always use forward-slash absolute
// paths; the helpers here keep the three surfaces consistent.
package pathutil

import (
	"path"
	"strings"
)

// Normalize cleans a remote path into canonical absolute form: forward
// slashes, no duplicate separators, no trailing slash except for the root.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	return cleaned
}

// Resolve resolves a possibly-relative remote path against a current
// directory. Absolute inputs ignore cwd.
func Resolve(cwd, p string) string {
	if p == "" {
		return Normalize(cwd)
	}
	if strings.HasPrefix(p, "/") {
		return Normalize(p)
	}
	if cwd == "" {
		cwd = "/"
	}
	return Normalize(path.Join(cwd, p))
}

// Join joins remote path elements into a normalized absolute path.
func Join(elem ...string) string {
	return Normalize(path.Join(elem...))
}

// Split breaks a normalized remote path into its segments. The root yields
// an empty slice.
func Split(p string) []string {
	p = Normalize(p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// Base returns the last segment of a remote path, or "/" for the root.
func Base(p string) string {
	return path.Base(Normalize(p))
}

// Parent returns the parent directory of a remote path. The root is its own
// parent.
func Parent(p string) string {
	return path.Dir(Normalize(p))
}

// IsRoot reports whether the path is the namespace root.
func IsRoot(p string) bool {
	return Normalize(p) == "/"
}
