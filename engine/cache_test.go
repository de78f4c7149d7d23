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
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storebadger "github.com/AleutianAI/techdata/engine/storage/badger"
)

func newTestCache(t *testing.T) *cache {
	t.Helper()
	db, err := storebadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newCache(db)
}

func TestCache_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	doc := testDoc()
	versions := []Version{{
		ID:           "v1",
		ProjectID:    "p1",
		VersionLabel: "Version 1",
		CreatedAt:    fakeUpdatedAt,
		CreatedBy:    "tester",
		Source:       VersionSourceManual,
		Snapshot:     doc,
		Changes:      ComputeChanges(nil, doc, SourceManual),
	}}

	require.NoError(t, c.putDocument("p1", doc))
	require.NoError(t, c.putVersions("p1", versions))
	require.NoError(t, c.putDocument("p2", Document{}))

	out, err := c.loadAll()
	require.NoError(t, err)
	require.Len(t, out, 2)

	p1 := out["p1"]
	require.NotNil(t, p1)
	assert.Equal(t, "sec-a", p1.Document[0].ID)
	require.Len(t, p1.Versions, 1)
	assert.Equal(t, "v1", p1.Versions[0].ID)
	assert.Len(t, p1.Versions[0].Changes, 4)

	p2 := out["p2"]
	require.NotNil(t, p2)
	assert.Empty(t, p2.Document)
	assert.Empty(t, p2.Versions)
}

func TestCache_DeleteProject(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.putDocument("p1", testDoc()))
	require.NoError(t, c.putVersions("p1", []Version{{ID: "v1"}}))
	require.NoError(t, c.putDocument("p2", testDoc()))

	require.NoError(t, c.deleteProject("p1"))

	out, err := c.loadAll()
	require.NoError(t, err)
	assert.NotContains(t, out, "p1")
	assert.Contains(t, out, "p2")
}

// A corrupt cache entry loses that entry, never the whole rehydration.
func TestCache_CorruptEntrySkipped(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.putDocument("good", testDoc()))
	require.NoError(t, c.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set([]byte(docKeyPrefix+"bad"), []byte("{not json")); err != nil {
			return err
		}
		return txn.Set([]byte(verKeyPrefix+"bad"), []byte(`[{"id":"v1"}]`))
	}))

	out, err := c.loadAll()
	require.NoError(t, err)

	require.Contains(t, out, "good")
	require.Contains(t, out, "bad")
	assert.Nil(t, out["bad"].Document)
	require.Len(t, out["bad"].Versions, 1, "history survives a corrupt document entry")
}

func TestCache_UnknownKeysIgnored(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte("unrelated:key"), []byte("x"))
	}))

	out, err := c.loadAll()
	require.NoError(t, err)
	assert.Empty(t, out)
}
