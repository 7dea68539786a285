// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists completed scan reports.
//
// Reports are stored in BadgerDB, the embedded low-latency store used
// for local persistence. The store owns report identity: it assigns a
// UUID and a creation timestamp when a report is saved; the report
// content itself is immutable and stored verbatim.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/reposcan/pkg/logging"
	"github.com/AleutianAI/reposcan/services/scanner/report"
)

// keyPrefix namespaces report records inside the shared database.
const keyPrefix = "report:"

// Record is a stored report plus the metadata the store assigns.
type Record struct {
	ID             string             `json:"id"`
	UserID         string             `json:"userId"`
	RepoName       string             `json:"repoName"`
	CreatedAtMilli int64              `json:"createdAtMilli"`
	Report         *report.ScanReport `json:"report"`
}

// Config holds configuration for the report store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is set.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful
	// for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives store-level log output. BadgerDB's own internal
	// logging is disabled; its chatter is not useful at this scale.
	Logger *logging.Logger
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// BadgerStore is the BadgerDB-backed report store. Safe for concurrent
// use; Badger transactions provide isolation.
type BadgerStore struct {
	db  *badger.DB
	log *logging.Logger
}

// Open opens (or creates) the store.
func Open(cfg Config) (*BadgerStore, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("store path required for persistent mode")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening report store: %w", err)
	}
	return &BadgerStore{db: db, log: log}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// SaveReport persists a completed report for a user and returns the
// assigned report ID.
func (s *BadgerStore) SaveReport(ctx context.Context, r *report.ScanReport, userID, repoName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r == nil {
		return "", fmt.Errorf("nil report")
	}

	record := Record{
		ID:             uuid.NewString(),
		UserID:         userID,
		RepoName:       repoName,
		CreatedAtMilli: time.Now().UnixMilli(),
		Report:         r,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encoding report record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+record.ID), value)
	})
	if err != nil {
		return "", fmt.Errorf("writing report record: %w", err)
	}

	s.log.Info("saved scan report",
		"report_id", record.ID, "repo", repoName, "risk_score", r.RiskScore)
	return record.ID, nil
}

// GetReport fetches one stored record by ID.
func (s *BadgerStore) GetReport(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &record)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", id, err)
	}
	return &record, nil
}

// ListReports returns every stored record for a user, newest first.
// Intended for the report-history view of the external API layer.
func (s *BadgerStore) ListReports(ctx context.Context, userID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]Record, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var record Record
				if err := json.Unmarshal(value, &record); err != nil {
					// Skip corrupt entries rather than failing the list.
					s.log.Warn("skipping undecodable report record",
						"key", string(it.Item().Key()), "error", err)
					return nil
				}
				if record.UserID == userID {
					records = append(records, record)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing reports for user %s: %w", userID, err)
	}

	// Newest first.
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].CreatedAtMilli > records[i].CreatedAtMilli {
				records[i], records[j] = records[j], records[i]
			}
		}
	}
	return records, nil
}

// IsNotFound reports whether an error from GetReport means the record
// does not exist.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), badger.ErrKeyNotFound.Error())
}
