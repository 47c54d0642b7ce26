package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	encryption "github.com/reclabs/recbridge/internal/crypto"
)

// Tokens is the cached Rec authentication state for one account.
// Stored as plain JSON under CredentialDir()/<sha256(account)>.
type Tokens struct {
	Account      string    `json:"account"`
	AuthToken    string    `json:"authToken"`
	RefreshToken string    `json:"refreshToken"`
	UserID       string    `json:"userId,omitempty"`
	Username     string    `json:"username,omitempty"`
	RealName     string    `json:"realName,omitempty"`
	SavedAt      time.Time `json:"savedAt"`
}

// TokenPath returns the cache file path for an account.
func TokenPath(account string) string {
	return filepath.Join(CredentialDir(), encryption.HashAccount(account))
}

// SaveTokens writes the token cache for an account. The file is 0600: it
// holds live credentials.
func SaveTokens(tokens *Tokens) error {
	if tokens.Account == "" {
		return fmt.Errorf("cannot save tokens without an account")
	}
	if err := EnsureCredentialDir(); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}

	tokens.SavedAt = time.Now()
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	if err := os.WriteFile(TokenPath(tokens.Account), data, 0600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}

// LoadTokens reads the token cache for an account. A missing file is not an
// error; it returns (nil, nil) so callers fall through to a fresh login.
func LoadTokens(account string) (*Tokens, error) {
	data, err := os.ReadFile(TokenPath(account))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token cache: %w", err)
	}

	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	return &tokens, nil
}

// DeleteTokens removes the cached tokens for an account.
func DeleteTokens(account string) error {
	err := os.Remove(TokenPath(account))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
