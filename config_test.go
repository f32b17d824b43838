package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptionsFromYAMLParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	content := "concurrency: 4\nerror_mode: fail_fast\nordered: true\nretry:\n  max_attempts: 3\n  strategy: exponential_jitter\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fo, err := LoadOptionsFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, 4, fo.Concurrency)
	assert.Equal(t, "fail_fast", fo.ErrorMode)
	assert.True(t, fo.Ordered)
	assert.Equal(t, 3, fo.Retry.MaxAttempts)
}

func TestLoadOptionsFromYAMLMissingFile(t *testing.T) {
	_, err := LoadOptionsFromYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestToOptionsAppliesFileValuesOverDefaults(t *testing.T) {
	fo := FileOptions{
		Concurrency: 8,
		ErrorMode:   "best_effort",
		Ordered:     true,
		Retry:       FileRetryOptions{MaxAttempts: 5, Strategy: "linear"},
	}
	o := ToOptions[int](fo)
	assert.Equal(t, 8, o.Concurrency)
	assert.Equal(t, BestEffort, o.ErrorMode)
	assert.True(t, o.Ordered)
	assert.Equal(t, 5, o.Retry.MaxAttempts)
	assert.Equal(t, RetryLinear, o.Retry.Strategy)
}

func TestToOptionsDefaultsUnknownErrorModeToCollectAndContinue(t *testing.T) {
	o := ToOptions[int](FileOptions{Concurrency: 1})
	assert.Equal(t, CollectAndContinue, o.ErrorMode)
	assert.Equal(t, RetryFixed, o.Retry.Strategy)
}

func TestToOptionsCarriesPerItemTimeout(t *testing.T) {
	o := ToOptions[int](FileOptions{Concurrency: 1, PerItemTimeout: 2 * time.Second})
	assert.Equal(t, 2*time.Second, o.PerItemTimeout)
}

func TestLoadOptionsFromYAMLParsesPerItemTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	content := "concurrency: 2\nper_item_timeout: 500ms\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fo, err := LoadOptionsFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, fo.PerItemTimeout)
}
