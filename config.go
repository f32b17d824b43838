package dispatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileOptions is the YAML-serializable subset of Options, for long-running
// services that want their dispatch tuning (concurrency, retry policy,
// error mode) sourced from a config file instead of compiled in.
type FileOptions struct {
	Concurrency    int              `yaml:"concurrency"`
	ErrorMode      string           `yaml:"error_mode"`
	Ordered        bool             `yaml:"ordered"`
	PerItemTimeout time.Duration    `yaml:"per_item_timeout"`
	Retry          FileRetryOptions `yaml:"retry"`
}

// FileRetryOptions is the YAML shape of RetryOptions.
type FileRetryOptions struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Strategy    string        `yaml:"strategy"`
}

// LoadOptionsFromYAML reads and parses a FileOptions document from path. It
// does not apply defaults; call ToOptions on the result to get a normalized
// Options[R].
func LoadOptionsFromYAML(path string) (FileOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileOptions{}, fmt.Errorf("dispatch: read config %s: %w", path, err)
	}
	var fo FileOptions
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return FileOptions{}, fmt.Errorf("dispatch: parse config %s: %w", path, err)
	}
	return fo, nil
}

// ToOptions converts a parsed FileOptions into an Options[R], applying it on
// top of NewOptions' defaults so a partially-specified file still yields a
// valid configuration.
func ToOptions[R any](fo FileOptions) Options[R] {
	var mode ErrorMode
	switch fo.ErrorMode {
	case "fail_fast":
		mode = FailFast
	case "best_effort":
		mode = BestEffort
	default:
		mode = CollectAndContinue
	}

	var strategy RetryStrategy
	switch fo.Retry.Strategy {
	case "linear":
		strategy = RetryLinear
	case "exponential":
		strategy = RetryExponential
	case "exponential_jitter":
		strategy = RetryExponentialJitter
	default:
		strategy = RetryFixed
	}

	return NewOptions[R](
		WithConcurrency[R](fo.Concurrency),
		WithErrorMode[R](mode),
		WithOrdered[R](fo.Ordered),
		WithPerItemTimeout[R](fo.PerItemTimeout),
		WithRetry[R](RetryOptions{
			MaxAttempts: fo.Retry.MaxAttempts,
			BaseDelay:   fo.Retry.BaseDelay,
			MaxDelay:    fo.Retry.MaxDelay,
			Strategy:    strategy,
		}),
	)
}
