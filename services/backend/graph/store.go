// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
)

// ErrNoGraph is returned by Snapshot when no graph has been loaded yet,
// neither from an API build nor from the backing file.
var ErrNoGraph = errors.New("no social graph is loaded")

// Store holds the current social graph and optionally keeps it in sync with
// a JSON file on disk. Builds pushed through the API always win over the
// file until the file changes again.
//
// Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current *datatypes.GraphBuildResponse
	path    string

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
}

// NewStore creates a store backed by the file at path. An empty path means
// in-memory only. If the file exists it is loaded immediately; a missing
// file is not an error, the store just starts empty.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		done: make(chan struct{}),
	}
	if path == "" {
		return s, nil
	}

	if err := s.loadFromFile(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		slog.Info("graph file not present yet, starting empty", "path", path)
	}
	return s, nil
}

// Snapshot returns the current graph. Callers must treat the result as
// read-only; the store never mutates a response after publishing it.
func (s *Store) Snapshot() (*datatypes.GraphBuildResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoGraph
	}
	return s.current, nil
}

// Set publishes a freshly built graph and, when the store is file-backed,
// persists it so a restart picks up where we left off.
func (s *Store) Set(resp *datatypes.GraphBuildResponse) error {
	s.mu.Lock()
	s.current = resp
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	// Write-then-rename so the watcher never observes a half-written file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Watch starts following the backing file for external edits. Reloads are
// debounced; editors that write via rename are handled by watching the
// parent directory. No-op for in-memory stores.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go s.watchLoop(ctx)
	return nil
}

// Stop tears down the file watcher. Safe to call multiple times.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
}

const reloadDebounce = 200 * time.Millisecond

func (s *Store) watchLoop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := s.loadFromFile(); err != nil {
				slog.Error("graph file reload failed, keeping previous graph",
					"path", s.path, "error", err)
				continue
			}
			slog.Info("graph reloaded from file", "path", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("graph file watcher error", "error", err)
		}
	}
}

func (s *Store) loadFromFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var resp datatypes.GraphBuildResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if len(resp.Nodes) == 0 {
		return errors.New("graph file contains no nodes")
	}

	s.mu.Lock()
	s.current = &resp
	s.mu.Unlock()
	return nil
}
