package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// filePolicy is the YAML shape of Policy, read from disk on every change.
type filePolicy struct {
	SampleIntervalMS int `yaml:"sample_interval_ms"`
	CardinalityLimit int `yaml:"cardinality_limit"`
}

// WatchSinkConfig watches path for writes and delivers a freshly-normalized
// Policy on the returned channel each time its contents change, until ctx is
// cancelled. A watcher setup failure (including a missing file) is returned
// directly; later read or parse errors and watcher errors are sent on the
// error channel. Both channels close when watching stops.
func WatchSinkConfig(ctx context.Context, path string) (<-chan Policy, <-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("telemetry: watch %s: %w", path, err)
	}

	changes := make(chan Policy, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errs)
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || event.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				p, err := loadPolicyFromFile(path)
				if err != nil {
					select {
					case errs <- err:
					case <-ctx.Done():
						return
					}
					continue
				}
				select {
				case changes <- p:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return changes, errs, nil
}

func loadPolicyFromFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("telemetry: read %s: %w", path, err)
	}
	var fp filePolicy
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return Policy{}, fmt.Errorf("telemetry: parse %s: %w", path, err)
	}
	p := Policy{
		SampleInterval:   time.Duration(fp.SampleIntervalMS) * time.Millisecond,
		CardinalityLimit: fp.CardinalityLimit,
	}
	return p.Normalize(), nil
}
