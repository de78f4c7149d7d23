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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveSnapshot_NoDocumentReturnsNil(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{})
	assert.Nil(t, eng.SaveSnapshot(context.Background(), "p1", nil))
}

func TestSaveSnapshot_MutationsRecordVersions(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{})
	_, fieldID := seedProject(t, eng, "p1")

	versions := eng.Versions("p1")
	require.Len(t, versions, 2)

	// Newest first. The field addition diff rides on the newest entry.
	assert.Equal(t, "Version 2", versions[0].VersionLabel)
	assert.Equal(t, VersionSourceManual, versions[0].Source)
	require.Len(t, versions[0].Changes, 1)
	assert.Equal(t, ChangeAdded, versions[0].Changes[0].ChangeType)
	assert.Equal(t, fieldID, versions[0].Changes[0].FieldID)

	assert.Equal(t, "Version 1", versions[1].VersionLabel)
	assert.Empty(t, versions[1].Changes, "a fieldless section produces no field-level changes")
}

func TestSaveSnapshot_ManualAlwaysAppends(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{})
	seedProject(t, eng, "p1")
	before := len(eng.Versions("p1"))

	v := eng.SaveSnapshot(context.Background(), "p1", nil)
	require.NotNil(t, v)
	assert.Empty(t, v.Changes)
	assert.Equal(t, VersionSourceManual, v.Source)
	assert.Len(t, eng.Versions("p1"), before+1)
}

func TestSaveSnapshot_DedupNonManual(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{})
	seedProject(t, eng, "p1")
	latest := eng.Versions("p1")[0]
	before := len(eng.Versions("p1"))

	// Two automated saves with nothing new collapse onto the existing
	// latest version.
	for i := 0; i < 2; i++ {
		v := eng.SaveSnapshot(context.Background(), "p1", &SnapshotOptions{Source: VersionSourceAI})
		require.NotNil(t, v)
		assert.Equal(t, latest.ID, v.ID)
	}
	assert.Len(t, eng.Versions("p1"), before)
}

func TestSaveSnapshot_LabelNotesAndDiff(t *testing.T) {
	fake := &fakeRemote{}
	eng := newTestEngine(t, fake)
	sectionID, fieldID := seedProject(t, eng, "p1")

	// A failed persist skips the automatic post-mutation version, so the
	// edit is still unversioned when the user checkpoints explicitly.
	fake.setFailWrites(1)
	eng.UpdateField(context.Background(), "p1", FieldUpdate{
		SectionID: sectionID, FieldID: fieldID, Value: "20",
	})

	v := eng.SaveSnapshot(context.Background(), "p1", &SnapshotOptions{
		Label: "Before site visit",
		Notes: "pre-survey checkpoint",
	})
	require.NotNil(t, v)
	assert.Equal(t, "Before site visit", v.VersionLabel)
	assert.Equal(t, "pre-survey checkpoint", v.Notes)
	assert.Equal(t, "p1", v.ProjectID)
	assert.Positive(t, v.CreatedAt)

	require.Len(t, v.Changes, 1)
	assert.Equal(t, ChangeModified, v.Changes[0].ChangeType)
	assert.Equal(t, "10", v.Changes[0].OldValue)
	assert.Equal(t, "20", v.Changes[0].NewValue)
}

// Each version's change list must be exactly the diff between its snapshot
// and its predecessor's.
func TestVersionHistory_RoundTrip(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{})
	sectionID, fieldID := seedProject(t, eng, "p1")

	ctx := context.Background()
	eng.UpdateField(ctx, "p1", FieldUpdate{SectionID: sectionID, FieldID: fieldID, Value: "20"})
	eng.AddField(ctx, "p1", sectionID, Field{Label: "Depth", Value: "3", Unit: "m"})
	eng.RemoveField(ctx, "p1", sectionID, fieldID)

	versions := eng.Versions("p1")
	require.Len(t, versions, 5)

	for i := 0; i < len(versions)-1; i++ {
		newer, older := versions[i], versions[i+1]
		want := ComputeChanges(older.Snapshot, newer.Snapshot, changeSource(newer.Source))
		assert.ElementsMatch(t, want, newer.Changes, "version %q", newer.VersionLabel)
	}

	// The oldest version diffs against nothing.
	oldest := versions[len(versions)-1]
	want := ComputeChanges(nil, oldest.Snapshot, changeSource(oldest.Source))
	assert.ElementsMatch(t, want, oldest.Changes)
}

// -----------------------------------------------------------------------------
// Rollback
// -----------------------------------------------------------------------------

func TestRevertToVersion(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{})
	sectionID, fieldID := seedProject(t, eng, "p1")

	ctx := context.Background()
	eng.UpdateField(ctx, "p1", FieldUpdate{SectionID: sectionID, FieldID: fieldID, Value: "20"})
	eng.UpdateField(ctx, "p1", FieldUpdate{SectionID: sectionID, FieldID: fieldID, Value: "30"})

	versions := eng.Versions("p1")
	require.Len(t, versions, 4)
	target := versions[2] // the "10" state
	require.Equal(t, "10", target.Snapshot[0].Fields[0].Value)

	require.NoError(t, eng.RevertToVersion(ctx, "p1", target.ID, "bad sensor batch"))

	assert.Equal(t, "10", eng.Sections("p1")[0].Fields[0].Value)

	after := eng.Versions("p1")
	require.Len(t, after, 5, "rollback appends, never deletes")
	newest := after[0]
	assert.Equal(t, VersionSourceRollback, newest.Source)
	assert.Equal(t, "Rollback to "+target.VersionLabel, newest.VersionLabel)
	assert.Equal(t, "bad sensor batch", newest.Notes)
	assert.Equal(t, target.Snapshot, newest.Snapshot)

	// The reverted-from version stays at its original position.
	assert.Equal(t, versions[0].ID, after[1].ID)
}

func TestRevertToVersion_UnknownIDIsNoOp(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{})
	seedProject(t, eng, "p1")
	before := eng.Versions("p1")

	require.NoError(t, eng.RevertToVersion(context.Background(), "p1", "no-such-version", ""))
	require.NoError(t, eng.RevertToVersion(context.Background(), "no-such-project", "x", ""))

	assert.Equal(t, before, eng.Versions("p1"))
}

func TestRevertToVersion_PersistFailure(t *testing.T) {
	fake := &fakeRemote{}
	eng := newTestEngine(t, fake)
	sectionID, fieldID := seedProject(t, eng, "p1")

	ctx := context.Background()
	eng.UpdateField(ctx, "p1", FieldUpdate{SectionID: sectionID, FieldID: fieldID, Value: "20"})
	versions := eng.Versions("p1")
	target := versions[1] // the "10" state

	fake.setFailWrites(1)
	require.Error(t, eng.RevertToVersion(ctx, "p1", target.ID, ""))

	// Reverted locally, unconfirmed remotely, no rollback version yet.
	assert.Equal(t, "10", eng.Sections("p1")[0].Fields[0].Value)
	assert.Len(t, eng.Versions("p1"), len(versions))
	status := eng.Status("p1")
	assert.True(t, status.PendingChanges)
	assert.NotEmpty(t, status.SyncError)
}
