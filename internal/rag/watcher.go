// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce is how long a file must be quiet before re-ingest.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher re-ingests .txt and .md files under a directory when they change.
type Watcher struct {
	ing      Ingester
	root     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]time.Time // path -> last change
	removed map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for root. Call Start to begin.
func NewWatcher(ing Ingester, root string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		ing:      ing,
		root:     root,
		watcher:  fw,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]time.Time),
		removed:  make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start adds root and its subdirectories and starts the event loops.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.processEvents()
	go w.processPending()
	return nil
}

// addRecursive adds a directory and all its subdirectories to the watch list.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && shouldIgnore(filepath.Base(path)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("watch add failed", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watcher panic", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !shouldIgnore(filepath.Base(event.Name)) {
				_ = w.addRecursive(event.Name)
			}
			return
		}
	}
	if !Ingestible(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		delete(w.removed, event.Name)
		w.pending[event.Name] = time.Now()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.removed[event.Name] = struct{}{}
		w.pending[event.Name] = time.Now()
	}
}

func (w *Watcher) processPending() {
	defer w.wg.Done()

	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			type job struct {
				path    string
				removed bool
			}
			var jobs []job

			w.mu.Lock()
			for path, changed := range w.pending {
				if now.Sub(changed) >= w.debounce {
					_, gone := w.removed[path]
					jobs = append(jobs, job{path: path, removed: gone})
					delete(w.pending, path)
					delete(w.removed, path)
				}
			}
			w.mu.Unlock()

			for _, j := range jobs {
				w.apply(j.path, j.removed)
			}
		}
	}
}

// apply re-ingests or removes one file.
func (w *Watcher) apply(path string, removed bool) {
	source := filepath.Clean(path)
	if _, err := os.Stat(path); removed || err != nil {
		n, err := w.ing.Remove(w.ctx, source)
		if err != nil {
			w.logger.Warn("knowledge remove failed", zap.String("path", path), zap.Error(err))
			return
		}
		w.logger.Info("knowledge removed", zap.String("path", path), zap.Int("records", n))
		return
	}

	n, err := IngestFile(w.ctx, w.ing, path, source)
	if err != nil {
		w.logger.Warn("knowledge ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("knowledge ingested", zap.String("path", path), zap.Int("added", n))
}

// Close stops watching and waits for the event loops to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
