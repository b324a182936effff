package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vivagen/internal/infra"
)

// Store persists the bearer credential on the local filesystem so it survives
// restarts alongside the asset records. The stored base URL is always
// normalized back to the fixed origin on load.
type Store struct {
	path string
}

type record struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// APIKey returns the stored credential, or empty when none has been saved.
func (s *Store) APIKey() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: read %s: %w", s.path, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("credentials: decode %s: %w", s.path, err)
	}
	return strings.TrimSpace(rec.APIKey), nil
}

// SetAPIKey saves the credential, creating the parent directory when needed.
func (s *Store) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("credentials: api key is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("credentials: ensure directory: %w", err)
	}
	raw, err := json.MarshalIndent(record{BaseURL: infra.FixedBaseURL, APIKey: key}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("credentials: write %s: %w", s.path, err)
	}
	return nil
}
