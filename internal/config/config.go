package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kalambet/labelloop/internal/prompt"
)

type Config struct {
	Gateway    GatewayConfig
	Batch      BatchConfig
	Classify   ClassifyConfig
	Tuning     TuningConfig
	Storage    StorageConfig
	Categories []prompt.Category
}

type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type BatchConfig struct {
	Size        int
	Method      string
	Seed        int64
	MaxExamples int
}

type ClassifyConfig struct {
	Workers     int
	MaxAttempts int
	BackoffMS   int
}

type TuningConfig struct {
	BaseModel string
	Suffix    string
	Epochs    int
}

type StorageConfig struct {
	DataDir        string
	BatchDir       string
	CategoriesPath string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Gateway: GatewayConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Batch: BatchConfig{
			Size:        10,
			Method:      "longest",
			Seed:        42,
			MaxExamples: 30,
		},
		Classify: ClassifyConfig{
			Workers:     4,
			MaxAttempts: 3,
			BackoffMS:   500,
		},
		Tuning: TuningConfig{
			BaseModel: "gpt-4o-mini",
			Suffix:    "labelloop",
			Epochs:    3,
		},
		Storage: StorageConfig{
			DataDir:        dataDir,
			BatchDir:       defaultBatchDir(dataDir),
			CategoriesPath: defaultCategoriesPath(),
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/labelloop/config.json, applies LABELLOOP_* environment
// overrides, and loads the category definitions. The gateway API key is
// required; use LoadOffline for commands that never call the gateway.
func Load() (Config, error) {
	cfg, err := loadWith(newFileBackend())
	if err != nil {
		return Config{}, err
	}
	if cfg.Gateway.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: gateway API key. Set it via environment variable LABELLOOP_GATEWAY_API_KEY")
	}
	return cfg, nil
}

// LoadOffline reads configuration without requiring the gateway API key.
func LoadOffline() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	categories, err := loadCategories(cfg.Storage.CategoriesPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Categories = categories
	return cfg, nil
}

// CategoryNames returns the configured category names in definition order.
func (c Config) CategoryNames() []string {
	names := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		names[i] = cat.Name
	}
	return names
}

// loadCategories reads the category definition file: a JSON array of
// {name, description} objects. A missing file yields no categories, which
// commands that need them reject with their own error.
func loadCategories(path string) ([]prompt.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading category definitions %s: %w", path, err)
	}
	var categories []prompt.Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("parsing category definitions %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category definitions %s: entry without name", path)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("category definitions %s: duplicate category %q", path, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return categories, nil
}
