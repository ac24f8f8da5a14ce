// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
)

const runKeyPrefix = "run:"

// ArchiveConfig configures the embedded run store.
type ArchiveConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultArchiveConfig returns production defaults: durable writes at the
// given path.
func DefaultArchiveConfig(path string) ArchiveConfig {
	return ArchiveConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryArchiveConfig returns a config for tests: no disk, no fsync.
func InMemoryArchiveConfig() ArchiveConfig {
	return ArchiveConfig{InMemory: true}
}

// Archive persists completed simulation runs in BadgerDB so results survive
// restarts and past runs stay queryable.
type Archive struct {
	db *badger.DB
}

// OpenArchive opens (or creates) the run store.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("archive path is required for persistent mode")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save stores a completed run, overwriting any previous record with the
// same run id.
func (a *Archive) Save(record datatypes.SimulationRunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(runKeyPrefix+record.RunID), data)
	})
}

// Get returns one archived run. ErrRunNotFound for unknown ids.
func (a *Archive) Get(runID string) (datatypes.SimulationRunRecord, error) {
	var record datatypes.SimulationRunRecord
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runKeyPrefix + runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	return record, err
}

// List returns summaries of all archived runs, newest first.
func (a *Archive) List() ([]datatypes.SimulationRunSummary, error) {
	var summaries []datatypes.SimulationRunSummary
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var record datatypes.SimulationRunRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			summaries = append(summaries, datatypes.SimulationRunSummary{
				RunID:      record.RunID,
				Mode:       record.Mode,
				Stimulus:   record.Stimulus,
				AgentCount: record.AgentCount,
				StartedAt:  record.StartedAt,
				FinishedAt: record.FinishedAt,
				State:      record.Status.State,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt > summaries[j].StartedAt
	})
	return summaries, nil
}

// badgerLogger adapts BadgerDB's logger interface to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
