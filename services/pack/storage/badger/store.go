// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
)

// keyPrefix namespaces build records.
const keyPrefix = "build/"

// BuildRecord is the persisted summary of one closure build.
type BuildRecord struct {
	ID             string                `json:"id"`
	ProjectRoot    string                `json:"project_root"`
	CreatedAtMilli int64                 `json:"created_at_milli"`
	Handler        string                `json:"handler"`
	Files          []manifest.FileRecord `json:"files"`
	Warnings       []string              `json:"warnings"`
	TotalBytes     int64                 `json:"total_bytes"`
}

// ArtifactStore persists build records.
//
// Thread Safety: Safe for concurrent use.
type ArtifactStore struct {
	db *DB
}

// NewArtifactStore wraps an open database.
func NewArtifactStore(db *DB) *ArtifactStore {
	return &ArtifactStore{db: db}
}

func recordKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Put stores rec, replacing any record with the same ID.
func (s *ArtifactStore) Put(ctx context.Context, rec *BuildRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	})
}

// Get returns the record with id, or ErrNotFound.
func (s *ArtifactStore) Get(ctx context.Context, id string) (*BuildRecord, error) {
	var rec BuildRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", id, err)
	}
	return &rec, nil
}

// List returns up to limit records, newest first. A limit below 1 returns
// every record.
func (s *ArtifactStore) List(ctx context.Context, limit int) ([]*BuildRecord, error) {
	var records []*BuildRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec BuildRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAtMilli != records[j].CreatedAtMilli {
			return records[i].CreatedAtMilli > records[j].CreatedAtMilli
		}
		return records[i].ID > records[j].ID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Delete removes the record with id, or returns ErrNotFound.
func (s *ArtifactStore) Delete(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		return txn.Delete(recordKey(id))
	})
}
