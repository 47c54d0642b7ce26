package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	encryption "github.com/reclabs/recbridge/internal/crypto"
)

// WebDAVCredentials is the cached PanDav login for one Rec account.
// Stored base64-encoded under CredentialDir()/<sha256(recAccount)>-pandav.
// Base64 keeps casual directory listings from exposing the password; it is
// an obfuscation, not encryption.
type WebDAVCredentials struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	URL      string `json:"url,omitempty"`
}

// WebDAVPath returns the cache file path for the Rec account's WebDAV login.
func WebDAVPath(recAccount string) string {
	return filepath.Join(CredentialDir(), encryption.HashAccount(recAccount)+"-pandav")
}

// SaveWebDAVCredentials writes the WebDAV credential cache for a Rec account.
func SaveWebDAVCredentials(recAccount string, creds *WebDAVCredentials) error {
	if err := EnsureCredentialDir(); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode webdav credentials: %w", err)
	}

	encoded := encryption.EncodeBase64(data)
	if err := os.WriteFile(WebDAVPath(recAccount), []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write webdav credential cache: %w", err)
	}
	return nil
}

// LoadWebDAVCredentials reads the WebDAV credential cache for a Rec account.
// A missing file returns (nil, nil).
func LoadWebDAVCredentials(recAccount string) (*WebDAVCredentials, error) {
	raw, err := os.ReadFile(WebDAVPath(recAccount))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read webdav credential cache: %w", err)
	}

	data, err := encryption.DecodeBase64(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode webdav credential cache: %w", err)
	}

	var creds WebDAVCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse webdav credential cache: %w", err)
	}
	return &creds, nil
}

// DeleteWebDAVCredentials removes the cached WebDAV login for a Rec account.
func DeleteWebDAVCredentials(recAccount string) error {
	err := os.Remove(WebDAVPath(recAccount))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
