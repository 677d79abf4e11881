package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates the run configuration. It is the
// composition root's primary entry point, mirroring the teacher's
// config.Initialize(ctx, configDir) shape:
//
//  1. Load the .env file at envPath, if envPath is non-empty (best effort; a
//     missing .env is not fatal, matching cmd/tarsy/main.go's godotenv.Load handling).
//  2. Load and parse the YAML run config, if configPath is non-empty.
//  3. Merge over DefaultRunConfig() with mergo, user values taking priority.
//  4. Validate the merged result.
func Initialize(ctx context.Context, configPath, envPath string) (*RunConfig, error) {
	log := slog.With("config_path", configPath)
	log.Info("config: initializing")

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Warn("config: could not load .env file, continuing with existing environment", "path", envPath, "error", err)
		} else {
			log.Info("config: loaded environment file", "path", envPath)
		}
	}

	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("config: initialized",
		"policy", stats.Policy, "max_parallel", stats.MaxParallel,
		"enable_tools", stats.EnableTools, "store_enabled", stats.StoreEnabled)

	_ = ctx // reserved for future context-bound loading (e.g. remote config sources)
	return &cfg, nil
}

func load(configPath string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, NewLoadError(configPath, ErrConfigNotFound)
		}
		return RunConfig{}, NewLoadError(configPath, err)
	}

	var user RunConfig
	if err := yaml.Unmarshal(data, &user); err != nil {
		return RunConfig{}, NewLoadError(configPath, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	// mergo.WithOverride: non-zero fields in `user` win over the defaults
	// already populated in cfg, the same pairing the teacher's
	// pkg/config/loader.go uses for its queue-config merge.
	if err := mergo.Merge(&cfg, user, mergo.WithOverride); err != nil {
		return RunConfig{}, NewLoadError(configPath, fmt.Errorf("merge user config: %w", err))
	}

	return cfg, nil
}

// APIKey resolves the inference API key from the environment variable named
// by Inference.APIKeyEnv. An unset variable yields an empty key, which the
// llmclient treats as "no Authorization header" rather than an error.
func (c RunConfig) APIKey() string {
	if c.Inference.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Inference.APIKeyEnv)
}

// StorePassword resolves the store's database password from the
// environment variable named by Store.PasswordEnv.
func (c RunConfig) StorePassword() string {
	if c.Store.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Store.PasswordEnv)
}
