package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func newMapBackend() *mapBackend {
	return &mapBackend{data: make(map[string]any)}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b *mapBackend) SetString(key, val string) error {
	b.data[key] = val
	return nil
}

func (b *mapBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return nil
}

func (b *mapBackend) Delete(key string) error {
	delete(b.data, key)
	return nil
}

func writeCategories(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "categories.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing categories fixture: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	b := newMapBackend()
	b.data["storage.categories_path"] = filepath.Join(t.TempDir(), "absent.json")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Batch.Size != 10 || cfg.Batch.Method != "longest" || cfg.Batch.Seed != 42 {
		t.Errorf("batch defaults wrong: %+v", cfg.Batch)
	}
	if cfg.Batch.MaxExamples != 30 {
		t.Errorf("MaxExamples = %d, want 30", cfg.Batch.MaxExamples)
	}
	if cfg.Classify.Workers != 4 || cfg.Classify.MaxAttempts != 3 || cfg.Classify.BackoffMS != 500 {
		t.Errorf("classify defaults wrong: %+v", cfg.Classify)
	}
	if cfg.Gateway.BaseURL == "" || cfg.Gateway.Model == "" {
		t.Errorf("gateway defaults wrong: %+v", cfg.Gateway)
	}
	if len(cfg.Categories) != 0 {
		t.Errorf("expected no categories without a definitions file, got %v", cfg.Categories)
	}
}

func TestLoadBackendValues(t *testing.T) {
	b := newMapBackend()
	b.data["batch.size"] = 25
	b.data["batch.method"] = "random"
	b.data["gateway.model"] = "custom-model"
	b.data["storage.categories_path"] = filepath.Join(t.TempDir(), "absent.json")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Batch.Size != 25 || cfg.Batch.Method != "random" {
		t.Errorf("backend values not applied: %+v", cfg.Batch)
	}
	if cfg.Gateway.Model != "custom-model" {
		t.Errorf("Gateway.Model = %q", cfg.Gateway.Model)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	b := newMapBackend()
	b.data["batch.size"] = 25
	b.data["storage.categories_path"] = filepath.Join(t.TempDir(), "absent.json")
	t.Setenv("LABELLOOP_BATCH_SIZE", "7")
	t.Setenv("LABELLOOP_GATEWAY_API_KEY", "env-secret")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Batch.Size != 7 {
		t.Errorf("env override lost: Batch.Size = %d, want 7", cfg.Batch.Size)
	}
	if cfg.Gateway.APIKey != "env-secret" {
		t.Errorf("secret env override lost: %q", cfg.Gateway.APIKey)
	}
}

func TestLoadCategories(t *testing.T) {
	path := writeCategories(t, `[
  {"name": "catA", "description": "about topic A"},
  {"name": "catB", "description": "about topic B"}
]`)
	b := newMapBackend()
	b.data["storage.categories_path"] = path

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	names := cfg.CategoryNames()
	if len(names) != 2 || names[0] != "catA" || names[1] != "catB" {
		t.Fatalf("CategoryNames = %v", names)
	}
}

func TestLoadCategoriesRejectsDuplicates(t *testing.T) {
	path := writeCategories(t, `[{"name": "catA"}, {"name": "catA"}]`)
	b := newMapBackend()
	b.data["storage.categories_path"] = path

	if _, err := loadWith(b); err == nil {
		t.Fatal("expected error for duplicate category names")
	}
}

func TestLoadCategoriesRejectsUnnamed(t *testing.T) {
	path := writeCategories(t, `[{"description": "no name"}]`)
	b := newMapBackend()
	b.data["storage.categories_path"] = path

	if _, err := loadWith(b); err == nil {
		t.Fatal("expected error for unnamed category")
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()
	if err := setKeyWith(b, "batch.method", "shortest"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if b.data["batch.method"] != "shortest" {
		t.Errorf("backend value = %v", b.data["batch.method"])
	}

	if err := setKeyWith(b, "batch.size", "15"); err != nil {
		t.Fatalf("setKeyWith int: %v", err)
	}
	if b.data["batch.size"] != 15 {
		t.Errorf("backend value = %v", b.data["batch.size"])
	}

	if err := setKeyWith(b, "batch.size", "abc"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKeyWith(b, "gateway.api_key", "x"); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("expected secret rejection, got %v", err)
	}
	if err := setKeyWith(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Gateway.APIKey = "super-secret"

	for _, info := range ShowAll(cfg) {
		if info.Key == "gateway.api_key" {
			t.Fatal("ShowAll must not list the API key")
		}
		if strings.Contains(info.Value, "super-secret") {
			t.Fatalf("secret leaked through %s", info.Key)
		}
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "gateway.api_key" {
			t.Fatal("ValidKeys must not include secrets")
		}
	}
}
