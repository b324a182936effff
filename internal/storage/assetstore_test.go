package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vivagen/internal/domain"
)

func newTestStore(t *testing.T) *AssetStore {
	t.Helper()
	store, err := NewAssetStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewAssetStore: %v", err)
	}
	return store
}

func TestPutGetAllRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	asset := domain.Asset{
		ID:           "a1",
		Kind:         domain.AssetKindVideo,
		Status:       domain.StatusCompleted,
		Prompt:       "a red fox",
		ModelID:      "sora-2",
		ModelName:    "Sora 2",
		TaskID:       "t1",
		URL:          "https://cdn.example.com/fox.mp4",
		DurationText: "15s",
		GenTimeLabel: "42s",
		Timestamp:    time.Now().UTC().Truncate(time.Second),
		Config: domain.GenerationConfig{
			Kind:        domain.AssetKindVideo,
			ModelID:     "sora-2",
			Prompt:      "a red fox",
			AspectRatio: "16:9",
			OptionIndex: 1,
		},
	}
	if err := store.Put(ctx, asset); err != nil {
		t.Fatalf("Put: %v", err)
	}

	assets, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("len(assets) = %d, want 1", len(assets))
	}
	got := assets[0]
	if got.ID != asset.ID || got.TaskID != asset.TaskID || got.URL != asset.URL {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Status != domain.StatusCompleted || got.URL == "" {
		t.Fatalf("completed asset must carry url: %+v", got)
	}
	if got.Config.OptionIndex != 1 || got.Config.AspectRatio != "16:9" {
		t.Fatalf("config snapshot not preserved: %+v", got.Config)
	}
}

func TestPutReplacesExistingRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	asset := domain.Asset{ID: "a1", Kind: domain.AssetKindImage, Status: domain.StatusLoading}
	if err := store.Put(ctx, asset); err != nil {
		t.Fatalf("Put: %v", err)
	}
	asset.Status = domain.StatusCompleted
	asset.URL = "https://x/y.png"
	if err := store.Put(ctx, asset); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	assets, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("len(assets) = %d, want 1", len(assets))
	}
	if assets[0].Status != domain.StatusCompleted || assets[0].URL != "https://x/y.png" {
		t.Fatalf("update not applied: %+v", assets[0])
	}
}

func TestDeleteRemovesRecordAndToleratesUnknownID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, domain.Asset{ID: "a1", Status: domain.StatusFailed}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete unknown id: %v", err)
	}
	assets, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("len(assets) = %d, want 0", len(assets))
	}
}

func TestGetAllSkipsMalformedRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, domain.Asset{ID: "good", Status: domain.StatusQueued, TaskID: "t9"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	bad := filepath.Join(store.BasePath(), "assets", "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write malformed record: %v", err)
	}

	assets, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(assets) != 1 || assets[0].ID != "good" {
		t.Fatalf("assets = %+v, want only the good record", assets)
	}
}

func TestManifestWrittenAndRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewAssetStore(dir, nil); err != nil {
		t.Fatalf("NewAssetStore: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	var m struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.SchemaVersion != SchemaVersion {
		t.Fatalf("schema_version = %d, want %d", m.SchemaVersion, SchemaVersion)
	}

	newer, _ := json.Marshal(map[string]int{"schema_version": SchemaVersion + 1})
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), newer, 0o644); err != nil {
		t.Fatalf("write newer manifest: %v", err)
	}
	if _, err := NewAssetStore(dir, nil); err == nil {
		t.Fatalf("expected error opening store with newer schema version")
	}
}

func TestRecordPathRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(context.Background(), domain.Asset{ID: "../escape"}); err == nil {
		t.Fatalf("expected invalid id error")
	}
	if err := store.Delete(context.Background(), ""); err == nil {
		t.Fatalf("expected missing id error")
	}
}
