package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// marketscopeYAML mirrors the marketscope.yaml file structure.
type marketscopeYAML struct {
	Providers *ProvidersConfig `yaml:"providers"`
	Engine    *EngineConfig    `yaml:"engine"`
	Queue     *QueueConfig     `yaml:"queue"`
	Retention *RetentionConfig `yaml:"retention"`
	Storage   *StorageConfig   `yaml:"storage"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read marketscope.yaml from configDir
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Apply per-credential defaults (priority, min_interval)
//  6. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized",
		"llm_providers", stats.LLMProviders,
		"search_providers", stats.SearchProviders,
		"social_providers", stats.SocialProviders,
		"extractor_providers", stats.ExtractorProviders)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	raw, err := loadYAML(configDir, "marketscope.yaml")
	if err != nil {
		return nil, err
	}

	engine := DefaultEngineConfig()
	if raw.Engine != nil {
		if err := mergo.Merge(engine, raw.Engine, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge engine config: %w", err)
		}
	}

	queue := DefaultQueueConfig()
	if raw.Queue != nil {
		if err := mergo.Merge(queue, raw.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if raw.Retention != nil {
		if err := mergo.Merge(retention, raw.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	storage := DefaultStorageConfig()
	if raw.Storage != nil && raw.Storage.Root != "" {
		storage.Root = raw.Storage.Root
	}

	providers := raw.Providers
	if providers == nil {
		providers = &ProvidersConfig{}
	}
	applyCredentialDefaults(providers)

	return &Config{
		configDir: configDir,
		Providers: providers,
		Engine:    engine,
		Queue:     queue,
		Retention: retention,
		Storage:   storage,
	}, nil
}

func loadYAML(configDir, filename string) (*marketscopeYAML, error) {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(filename, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(filename, err)
	}

	data = ExpandEnv(data)

	var raw marketscopeYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, NewLoadError(filename, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &raw, nil
}

// applyCredentialDefaults fills priority and min_interval on entries that
// omit them. Priority defaults to list position so YAML ordering is the
// preference order.
func applyCredentialDefaults(p *ProvidersConfig) {
	for _, class := range AllClasses() {
		pool := p.ForClass(class)
		for i := range pool {
			if pool[i].Priority == 0 {
				pool[i].Priority = i + 1
			}
			if pool[i].MinInterval == 0 {
				pool[i].MinInterval = defaultMinInterval(class)
			}
		}
	}
}
