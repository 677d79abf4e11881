package scheduler

import (
	"errors"
	"fmt"
)

// Policy selects the strategy the scheduler uses to order and group node
// execution.
type Policy string

const (
	PolicySequential      Policy = "sequential"
	PolicyDependencyAware Policy = "dependency_aware"
	PolicyParallel        Policy = "parallel"
)

// ErrConfiguration marks a scheduler configuration error, a fatal condition
// at construction time rather than at run time.
var ErrConfiguration = errors.New("invalid scheduler configuration")

// Config is the scheduler's run configuration (spec.md §4.6).
type Config struct {
	Policy      Policy
	MaxParallel int
	EnableTools bool
	MaxTokens   int
	Temperature float64
	RetryFailed bool
	MaxRetries  int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Policy:      PolicyDependencyAware,
		MaxParallel: 4,
		EnableTools: true,
		MaxTokens:   512,
		Temperature: 0.7,
		RetryFailed: false,
		MaxRetries:  2,
	}
}

// WithDefaults fills zero-valued numeric/enum fields with the documented
// defaults, leaving explicitly-set fields untouched; MaxRetries is filled
// only when RetryFailed is set. Boolean fields
// (EnableTools, RetryFailed) are NOT defaulted here: Go's zero value for
// bool is indistinguishable from an explicit false, so a Config{} literal
// always carries EnableTools=false regardless of the documented default.
// Callers who want the documented defaults should build on DefaultConfig()
// rather than a zero-value Config{}.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Policy == "" {
		c.Policy = d.Policy
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxRetries == 0 && c.RetryFailed {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicySequential, PolicyDependencyAware, PolicyParallel:
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrConfiguration, c.Policy)
	}
	if c.MaxParallel <= 0 {
		return fmt.Errorf("%w: max_parallel must be positive, got %d", ErrConfiguration, c.MaxParallel)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrConfiguration, c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be in [0, 2], got %f", ErrConfiguration, c.Temperature)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be non-negative, got %d", ErrConfiguration, c.MaxRetries)
	}
	return nil
}

// effectiveMaxParallel returns the in-flight concurrency bound this policy
// actually dispatches with. The parallel policy is dependency_aware with a
// more aggressive concurrency budget (see DESIGN.md for the rationale); it
// never changes batch membership or ordering, only how much of a batch may
// run at once.
func (c Config) effectiveMaxParallel() int {
	if c.Policy == PolicyParallel {
		return c.MaxParallel * 4
	}
	return c.MaxParallel
}
