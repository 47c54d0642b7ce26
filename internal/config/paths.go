// Package config provides configuration management for recbridge.
package config

import (
	"os"
	"path/filepath"
)

// CredentialDirName is the directory under the user's home that holds cached
// Rec tokens and WebDAV credentials. The name is shared with the other Rec
// client implementations so caches interoperate.
const CredentialDirName = ".reccli-ts"

// CredentialDir returns the credential cache directory.
// Falls back to a temp-dir location when the home directory is unknown.
func CredentialDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), CredentialDirName)
	}
	return filepath.Join(homeDir, CredentialDirName)
}

// EnsureCredentialDir creates the credential directory if it doesn't exist.
// Uses 0700 permissions to restrict access to the owner only.
func EnsureCredentialDir() error {
	return os.MkdirAll(CredentialDir(), 0700)
}
