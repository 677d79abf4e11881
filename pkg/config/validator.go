package config

import "fmt"

// validate checks the merged configuration for internally consistent,
// non-empty required fields and for the max_parallel and temperature bounds.
// The policy name is not checked here; it is left to scheduler.Config.Validate,
// which runs again at scheduler construction — this pass only catches
// config-loading-level mistakes early, per spec.md §7's "Configuration
// error ... fatal at scheduler construction" row, surfaced a layer earlier.
func validate(cfg RunConfig) error {
	if cfg.Inference.BaseURL == "" {
		return NewValidationError("inference.base_url", fmt.Errorf("must not be empty"))
	}
	if cfg.Inference.Model == "" {
		return NewValidationError("inference.model", fmt.Errorf("must not be empty"))
	}
	if cfg.Scheduler.MaxParallel <= 0 {
		return NewValidationError("scheduler.max_parallel", fmt.Errorf("must be positive"))
	}
	if cfg.Scheduler.Temperature < 0 || cfg.Scheduler.Temperature > 2 {
		return NewValidationError("scheduler.temperature", fmt.Errorf("must be in [0, 2]"))
	}
	if cfg.Store.Enabled && cfg.Store.Database == "" {
		return NewValidationError("store.database", fmt.Errorf("must not be empty when store.enabled is true"))
	}
	return nil
}
