package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"vivagen/internal/domain"
	"vivagen/internal/infra"
)

// SchemaVersion is the current on-disk record version. The manifest lets a
// future version migrate old records instead of silently misreading them.
const SchemaVersion = 3

const manifestName = "manifest.json"

// AssetStore persists asset records onto the local filesystem, one JSON file
// per asset keyed by id. It is a passive persistence surface: no business
// logic, full read-modify-write through Put.
type AssetStore struct {
	basePath string
	logger   *infra.Logger

	mu sync.Mutex
}

type manifest struct {
	SchemaVersion int `json:"schema_version"`
}

// NewAssetStore initializes a store rooted at basePath, creating it and its
// manifest when missing.
func NewAssetStore(basePath string, logger *infra.Logger) (*AssetStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	if err := os.MkdirAll(filepath.Join(basePath, "assets"), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	s := &AssetStore{basePath: basePath, logger: logger}
	if err := s.ensureManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

// BasePath returns the configured root directory.
func (s *AssetStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *AssetStore) ensureManifest() error {
	path := filepath.Join(s.basePath, manifestName)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s.writeManifest(path)
	}
	if err != nil {
		return fmt.Errorf("storage: read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("storage: decode manifest: %w", err)
	}
	if m.SchemaVersion > SchemaVersion {
		return fmt.Errorf("storage: schema version %d is newer than supported %d", m.SchemaVersion, SchemaVersion)
	}
	if m.SchemaVersion < SchemaVersion {
		// No record-level migrations exist yet between known versions; bump
		// the manifest so the directory reflects the version that wrote last.
		return s.writeManifest(path)
	}
	return nil
}

func (s *AssetStore) writeManifest(path string) error {
	raw, err := json.Marshal(manifest{SchemaVersion: SchemaVersion})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("storage: write manifest: %w", err)
	}
	return nil
}

// Put persists the asset record, replacing any previous version.
func (s *AssetStore) Put(ctx context.Context, asset domain.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.recordPath(asset.ID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("storage: encode asset %s: %w", asset.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("storage: write asset %s: %w", asset.ID, err)
	}
	return nil
}

// GetAll returns every readable asset record. Records that fail to decode are
// skipped with a warning rather than failing the whole scan.
func (s *AssetStore) GetAll(ctx context.Context) ([]domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, "assets")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: scan assets: %w", err)
	}
	assets := make([]domain.Asset, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("record", entry.Name()).Msg("storage: skipping unreadable asset record")
			continue
		}
		var asset domain.Asset
		if err := json.Unmarshal(raw, &asset); err != nil {
			s.logger.Warn().Err(err).Str("record", entry.Name()).Msg("storage: skipping malformed asset record")
			continue
		}
		if asset.ID == "" {
			continue
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// Delete removes the asset record. Deleting an unknown id is not an error.
func (s *AssetStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.recordPath(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete asset %s: %w", id, err)
	}
	return nil
}

// recordPath validates the id and prevents escaping the storage root.
func (s *AssetStore) recordPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("storage: asset id is required")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("storage: invalid asset id %q", id)
	}
	return filepath.Join(s.basePath, "assets", id+".json"), nil
}
