// Package config loads the run configuration for a DAG replay: which
// backend to call, which scheduling policy to use, and (optionally) where
// to persist Workflow Execution Results. It mirrors the teacher's
// pkg/config loading shape (YAML + environment merge) scaled down to this
// repository's much smaller configuration surface.
package config

import "time"

// InferenceConfig describes the remote chat-completion backend (spec.md §6).
type InferenceConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// SchedulerConfig mirrors scheduler.Config's YAML-facing shape (spec.md §4.6).
type SchedulerConfig struct {
	Policy      string  `yaml:"policy"`
	MaxParallel int     `yaml:"max_parallel"`
	EnableTools *bool   `yaml:"enable_tools"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	RetryFailed bool    `yaml:"retry_failed"`
	MaxRetries  int     `yaml:"max_retries"`
}

// StoreConfig describes the optional Postgres-backed result archive
// (pkg/store — a SPEC_FULL.md supplement, not part of the core spec).
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"sslmode"`
}

// RunConfig is the complete, merged run configuration.
type RunConfig struct {
	DAGPath    string `yaml:"dag_path"`
	ResultPath string `yaml:"result_path"`

	Inference InferenceConfig `yaml:"inference"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
}

// Duration is a time.Duration that unmarshals from YAML duration strings
// ("120s", "2m"), the same convention the teacher's runbook/retention
// configs use for human-authored duration fields.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Stats summarizes a RunConfig for startup logging, mirroring the teacher's
// Config.Stats() used in cmd/tarsy/main.go's startup log line.
type Stats struct {
	Policy      string
	MaxParallel int
	EnableTools bool
	StoreEnabled bool
}

// Stats returns a startup-log-friendly summary of the config.
func (c RunConfig) Stats() Stats {
	return Stats{
		Policy:       c.Scheduler.Policy,
		MaxParallel:  c.Scheduler.MaxParallel,
		EnableTools:  c.Scheduler.EnableTools == nil || *c.Scheduler.EnableTools,
		StoreEnabled: c.Store.Enabled,
	}
}
