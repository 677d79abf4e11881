package config

import "time"

// DefaultRunConfig returns the compiled-in defaults the YAML file is merged
// over. These mirror scheduler.DefaultConfig() and llmclient.Config's
// defaults so a user only needs to override what differs.
func DefaultRunConfig() RunConfig {
	enableTools := true
	return RunConfig{
		ResultPath: "./result.json",
		Inference: InferenceConfig{
			BaseURL:    "http://localhost:8000",
			APIKeyEnv:  "INFERENCE_API_KEY",
			Model:      "gpt-4o-mini",
			Timeout:    Duration(120 * time.Second),
			MaxRetries: 2,
		},
		Scheduler: SchedulerConfig{
			Policy:      "dependency_aware",
			MaxParallel: 4,
			EnableTools: &enableTools,
			MaxTokens:   512,
			Temperature: 0.7,
			RetryFailed: false,
			MaxRetries:  2,
		},
		Store: StoreConfig{
			Enabled:     false,
			Host:        "localhost",
			Port:        5432,
			User:        "dagrunner",
			PasswordEnv: "STORE_PASSWORD",
			Database:    "dagrunner",
			SSLMode:     "disable",
		},
	}
}
