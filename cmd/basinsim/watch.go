package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/martinemde/basin/ecokernel"
)

// betaWatcher watches the simulation config file and re-applies its
// beta_overrides section whenever the file changes, so scarcity can be
// steered from an editor while a simulation runs. Only beta values are hot;
// everything else requires a restart.
type betaWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	kernel   *ecokernel.Kernel
	path     string
	logger   *zap.Logger
	debounce time.Duration
	lastLoad time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

func newBetaWatcher(path string, kernel *ecokernel.Kernel, logger *zap.Logger) (*betaWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &betaWatcher{
		watcher:  watcher,
		kernel:   kernel,
		path:     abs,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
// The parent directory is watched because editors typically replace the
// file on save rather than writing it in place.
func (w *betaWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		// The event loop never started, so unwind here: a later Stop
		// must stay a no-op rather than block on doneCh.
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		if cerr := w.watcher.Close(); cerr != nil {
			w.logger.Warn("error closing watcher", zap.Error(cerr))
		}
		return err
	}
	w.logger.Info("watching config for beta changes", zap.String("path", w.path))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *betaWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("error closing watcher", zap.Error(err))
	}
}

func (w *betaWatcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *betaWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	// Debounce rapid saves
	w.mu.Lock()
	if time.Since(w.lastLoad) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastLoad = time.Now()
	w.mu.Unlock()

	w.reload()
}

func (w *betaWatcher) reload() {
	cfg, err := loadSimConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", zap.Error(err))
		return
	}
	for name, value := range cfg.Kernel.BetaOverrides {
		applied, err := w.kernel.SetBeta(ecokernel.ResourceType(name), value)
		if err != nil {
			w.logger.Warn("beta update rejected", zap.String("resource", name), zap.Error(err))
			continue
		}
		w.logger.Info("beta reloaded",
			zap.String("resource", name),
			zap.Float64("requested", value),
			zap.Float64("applied", applied))
	}
}
