package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "gateway.base_url", typ: kString, env: "LABELLOOP_GATEWAY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.BaseURL },
	},
	{
		key: "gateway.api_key", typ: kString, env: "LABELLOOP_GATEWAY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gateway.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.APIKey },
	},
	{
		key: "gateway.model", typ: kString, env: "LABELLOOP_GATEWAY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Model },
	},
	{
		key: "batch.size", typ: kInt, env: "LABELLOOP_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Batch.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.Size },
	},
	{
		key: "batch.method", typ: kString, env: "LABELLOOP_BATCH_METHOD",
		apply:   func(cfg *Config, v any) { cfg.Batch.Method = v.(string) },
		extract: func(cfg Config) any { return cfg.Batch.Method },
	},
	{
		key: "batch.seed", typ: kInt, env: "LABELLOOP_BATCH_SEED",
		apply:   func(cfg *Config, v any) { cfg.Batch.Seed = int64(v.(int)) },
		extract: func(cfg Config) any { return cfg.Batch.Seed },
	},
	{
		key: "batch.max_examples", typ: kInt, env: "LABELLOOP_BATCH_MAX_EXAMPLES",
		apply:   func(cfg *Config, v any) { cfg.Batch.MaxExamples = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.MaxExamples },
	},
	{
		key: "classify.workers", typ: kInt, env: "LABELLOOP_CLASSIFY_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Classify.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Classify.Workers },
	},
	{
		key: "classify.max_attempts", typ: kInt, env: "LABELLOOP_CLASSIFY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Classify.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Classify.MaxAttempts },
	},
	{
		key: "classify.backoff_ms", typ: kInt, env: "LABELLOOP_CLASSIFY_BACKOFF_MS",
		apply:   func(cfg *Config, v any) { cfg.Classify.BackoffMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Classify.BackoffMS },
	},
	{
		key: "tuning.base_model", typ: kString, env: "LABELLOOP_TUNING_BASE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Tuning.BaseModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Tuning.BaseModel },
	},
	{
		key: "tuning.suffix", typ: kString, env: "LABELLOOP_TUNING_SUFFIX",
		apply:   func(cfg *Config, v any) { cfg.Tuning.Suffix = v.(string) },
		extract: func(cfg Config) any { return cfg.Tuning.Suffix },
	},
	{
		key: "tuning.epochs", typ: kInt, env: "LABELLOOP_TUNING_EPOCHS",
		apply:   func(cfg *Config, v any) { cfg.Tuning.Epochs = v.(int) },
		extract: func(cfg Config) any { return cfg.Tuning.Epochs },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LABELLOOP_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.batch_dir", typ: kString, env: "LABELLOOP_STORAGE_BATCH_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.BatchDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.BatchDir },
	},
	{
		key: "storage.categories_path", typ: kString, env: "LABELLOOP_STORAGE_CATEGORIES_PATH",
		apply:   func(cfg *Config, v any) { cfg.Storage.CategoriesPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.CategoriesPath },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
