package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/vaultisle/dataroom/pkg/observability"
	"github.com/vaultisle/dataroom/pkg/ratelimit"
)

// tierOverlay is one tier's overridable settings. Window is a Go
// duration string such as "1m" or "30s".
type tierOverlay struct {
	Limit  int64  `yaml:"limit"`
	Window string `yaml:"window"`
}

// rateLimitOverlay is the YAML overlay file format:
//
//	api:
//	  limit: 1200
//	  window: 1m
//	auth:
//	  limit: 10
//	  window: 30s
type rateLimitOverlay struct {
	API  *tierOverlay `yaml:"api"`
	Auth *tierOverlay `yaml:"auth"`
}

// OverlayWatcher applies a rate limit overlay file and re-applies it
// whenever the file changes, so operators can tighten limits during an
// incident without a restart.
type OverlayWatcher struct {
	path    string
	api     *ratelimit.Limiter
	auth    *ratelimit.Limiter
	logger  *observability.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchRateLimitOverlay applies the overlay at path once, then keeps
// watching it. The watch covers the parent directory because editors
// and configmap mounts replace files instead of writing in place.
func WatchRateLimitOverlay(path string, api, auth *ratelimit.Limiter, logger *observability.Logger) (*OverlayWatcher, error) {
	w := &OverlayWatcher{
		path:   path,
		api:    api,
		auth:   auth,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := w.apply(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch overlay directory: %w", err)
	}
	w.watcher = watcher

	go w.run()
	return w, nil
}

func (w *OverlayWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.apply(); err != nil {
				w.logger.WithError(err).Warn("rate limit overlay reload failed, keeping previous limits")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("rate limit overlay watcher error")
		}
	}
}

// apply reads the overlay file and pushes its settings into the
// limiters. A missing file is not an error; it means no overrides.
func (w *OverlayWatcher) apply() error {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read overlay: %w", err)
	}

	var overlay rateLimitOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse overlay: %w", err)
	}

	if err := applyTier(w.api, overlay.API); err != nil {
		return err
	}
	if err := applyTier(w.auth, overlay.Auth); err != nil {
		return err
	}
	w.logger.Info("rate limit overlay applied")
	return nil
}

func applyTier(limiter *ratelimit.Limiter, tier *tierOverlay) error {
	if tier == nil {
		return nil
	}
	cfg := limiter.Config()
	limit := cfg.Limit
	window := cfg.Window
	if tier.Limit > 0 {
		limit = tier.Limit
	}
	if tier.Window != "" {
		parsed, err := time.ParseDuration(tier.Window)
		if err != nil {
			return fmt.Errorf("invalid overlay window for %q: %w", cfg.Identity, err)
		}
		window = parsed
	}
	return limiter.SetLimits(limit, window)
}

// Close stops watching the overlay file.
func (w *OverlayWatcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
