package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveLocal resolves a user-supplied local path against a session's
// working directory. Handles ~ expansion and rejects paths that do not
// exist or are not directories when mustBeDir is set.
func ResolveLocal(cwd, p string, mustBeDir bool) (string, error) {
	if p == "" {
		p = cwd
	}

	// Expand ~ to home directory
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = home + p[1:]
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s not found", abs)
		}
		return "", err
	}
	if mustBeDir && !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}
