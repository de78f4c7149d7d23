// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// -----------------------------------------------------------------------------
// Durable Cache
// -----------------------------------------------------------------------------

const (
	docKeyPrefix = "techdata:doc:"
	verKeyPrefix = "techdata:ver:"
)

// cache mirrors the live document and version history of every project
// into the embedded store, so both survive process restarts.
//
// The cache is a mirror, not the source of truth: writes are best-effort
// and a failed mirror never blocks a mutation. Rehydration happens once,
// inside New, before any mutation API is reachable.
//
// Thread Safety: Safe for concurrent use (BadgerDB serializes).
type cache struct {
	db *badger.DB
}

// cachedProject is the rehydrated local state of one project.
type cachedProject struct {
	Document Document
	Versions []Version
}

func newCache(db *badger.DB) *cache {
	return &cache{db: db}
}

// putDocument mirrors the live document for a project.
func (c *cache) putDocument(projectID string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(docKeyPrefix+projectID), data)
	})
	if err != nil {
		return fmt.Errorf("cache document for %s: %w", projectID, err)
	}
	return nil
}

// putVersions mirrors the full version list for a project. History is
// small and append-only within a session, so rewriting the whole list is
// simpler than maintaining per-version keys.
func (c *cache) putVersions(projectID string, versions []Version) error {
	data, err := json.Marshal(versions)
	if err != nil {
		return fmt.Errorf("encode versions: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(verKeyPrefix+projectID), data)
	})
	if err != nil {
		return fmt.Errorf("cache versions for %s: %w", projectID, err)
	}
	return nil
}

// deleteProject removes all cached state for a project.
func (c *cache) deleteProject(projectID string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(docKeyPrefix + projectID)); err != nil {
			return err
		}
		return txn.Delete([]byte(verKeyPrefix + projectID))
	})
	if err != nil {
		return fmt.Errorf("delete cached project %s: %w", projectID, err)
	}
	return nil
}

// loadAll rehydrates every cached project.
//
// Description:
//
//	Scans the document and version key spaces and decodes each entry.
//	A corrupt entry is skipped, not fatal: losing one cached project is
//	better than refusing to start.
//
// Outputs:
//   - map[string]*cachedProject: Rehydrated state keyed by project id.
//   - error: Non-nil only on store-level iteration failure.
func (c *cache) loadAll() (map[string]*cachedProject, error) {
	out := make(map[string]*cachedProject)

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())

			var projectID string
			var isDoc bool
			switch {
			case strings.HasPrefix(key, docKeyPrefix):
				projectID = strings.TrimPrefix(key, docKeyPrefix)
				isDoc = true
			case strings.HasPrefix(key, verKeyPrefix):
				projectID = strings.TrimPrefix(key, verKeyPrefix)
			default:
				continue
			}

			err := item.Value(func(val []byte) error {
				p := out[projectID]
				if p == nil {
					p = &cachedProject{}
					out[projectID] = p
				}
				if isDoc {
					var doc Document
					if err := json.Unmarshal(val, &doc); err != nil {
						return nil // skip corrupt entry
					}
					p.Document = doc
				} else {
					var versions []Version
					if err := json.Unmarshal(val, &versions); err != nil {
						return nil // keep the document, drop history
					}
					p.Versions = versions
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
		return nil, fmt.Errorf("rehydrate cache: %w", err)
	}
	return out, nil
}
