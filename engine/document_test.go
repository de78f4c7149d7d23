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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateField(t *testing.T) {
	t.Run("replaces value and stamps provenance", func(t *testing.T) {
		doc := testDoc()
		unit := "mg/L"
		notes := "lab reading"
		next := UpdateField(doc, FieldUpdate{
			SectionID: "sec-a",
			FieldID:   "f1",
			Value:     "6.9",
			Unit:      &unit,
			Source:    SourceAI,
			Notes:     &notes,
		})

		f := next[0].Fields[0]
		assert.Equal(t, "6.9", f.Value)
		assert.Equal(t, "mg/L", f.Unit)
		assert.Equal(t, SourceAI, f.Source)
		assert.Equal(t, "lab reading", f.Notes)

		// Input tree untouched.
		assert.Equal(t, "7.2", doc[0].Fields[0].Value)
	})

	t.Run("empty source defaults to manual", func(t *testing.T) {
		doc := testDoc()
		next := UpdateField(doc, FieldUpdate{SectionID: "sec-a", FieldID: "f2", Value: "5"})
		assert.Equal(t, SourceManual, next[0].Fields[1].Source)
	})

	t.Run("nil unit and notes keep existing values", func(t *testing.T) {
		doc := testDoc()
		next := UpdateField(doc, FieldUpdate{SectionID: "sec-a", FieldID: "f2", Value: "5"})
		assert.Equal(t, "NTU", next[0].Fields[1].Unit)
	})

	t.Run("unknown ids are a silent no-op", func(t *testing.T) {
		doc := testDoc()
		next := UpdateField(doc, FieldUpdate{SectionID: "sec-a", FieldID: "nope", Value: "x"})
		assert.Equal(t, doc, next)

		next = UpdateField(doc, FieldUpdate{SectionID: "nope", FieldID: "f1", Value: "x"})
		assert.Equal(t, doc, next)
	})
}

func TestApplyFieldUpdates_LaterWins(t *testing.T) {
	doc := testDoc()
	next := ApplyFieldUpdates(doc, []FieldUpdate{
		{SectionID: "sec-a", FieldID: "f1", Value: "first"},
		{SectionID: "sec-a", FieldID: "f2", Value: "other"},
		{SectionID: "sec-a", FieldID: "f1", Value: "second"},
	})

	assert.Equal(t, "second", next[0].Fields[0].Value)
	assert.Equal(t, "other", next[0].Fields[1].Value)
}

func TestUpdateFieldLabel(t *testing.T) {
	doc := testDoc()
	next := UpdateFieldLabel(doc, "sec-a", "f1", "Acidity")
	assert.Equal(t, "Acidity", next[0].Fields[0].Label)
	assert.Equal(t, "pH", doc[0].Fields[0].Label)

	assert.Equal(t, doc, UpdateFieldLabel(doc, "sec-a", "nope", "x"))
}

func TestAddSection(t *testing.T) {
	doc := testDoc()
	next, id := AddSection(doc, "Sampling")

	require.Len(t, next, 3)
	require.NotEmpty(t, id)
	assert.Equal(t, id, next[2].ID)
	assert.Equal(t, "Sampling", next[2].Title)
	assert.Equal(t, 2, next[2].Order)
	assert.Empty(t, next[2].Fields)
	assert.Len(t, doc, 2)
}

func TestRemoveSection_DenseRenumber(t *testing.T) {
	doc := testDoc()
	doc, _ = AddSection(doc, "Sampling")

	next := RemoveSection(doc, "sec-a")
	require.Len(t, next, 2)
	assert.Equal(t, "sec-b", next[0].ID)
	assert.Equal(t, 0, next[0].Order)
	assert.Equal(t, "Sampling", next[1].Title)
	assert.Equal(t, 1, next[1].Order)

	assert.Equal(t, doc, RemoveSection(doc, "nope"))
}

func TestUpdateSectionNotes(t *testing.T) {
	doc := testDoc()
	next := UpdateSectionNotes(doc, "sec-b", "survey pending")
	assert.Equal(t, "survey pending", next[1].Notes)
	assert.Empty(t, doc[1].Notes)
}

func TestAddField(t *testing.T) {
	t.Run("generates id and defaults source", func(t *testing.T) {
		doc := testDoc()
		next, id := AddField(doc, "sec-b", Field{Label: "Longitude"})
		require.NotEmpty(t, id)
		require.Len(t, next[1].Fields, 2)
		assert.Equal(t, id, next[1].Fields[1].ID)
		assert.Equal(t, SourceManual, next[1].Fields[1].Source)
	})

	t.Run("keeps caller-provided id", func(t *testing.T) {
		doc := testDoc()
		next, id := AddField(doc, "sec-b", Field{ID: "f9", Label: "Longitude", Source: SourceAI})
		assert.Equal(t, "f9", id)
		assert.Equal(t, SourceAI, next[1].Fields[1].Source)
	})

	t.Run("unknown section is a no-op", func(t *testing.T) {
		doc := testDoc()
		next, id := AddField(doc, "nope", Field{Label: "x"})
		assert.Empty(t, id)
		assert.Equal(t, doc, next)
	})
}

func TestRemoveField(t *testing.T) {
	doc := testDoc()
	next := RemoveField(doc, "sec-a", "f2")
	require.Len(t, next[0].Fields, 2)
	assert.Equal(t, "f1", next[0].Fields[0].ID)
	assert.Equal(t, "f3", next[0].Fields[1].ID)
	assert.Len(t, doc[0].Fields, 3)

	assert.Equal(t, doc, RemoveField(doc, "sec-a", "nope"))
}

func TestDuplicateField(t *testing.T) {
	doc := testDoc()
	next, id := DuplicateField(doc, "sec-a", "f2")

	require.NotEmpty(t, id)
	require.Len(t, next[0].Fields, 4)
	dup := next[0].Fields[3]
	assert.Equal(t, id, dup.ID)
	assert.NotEqual(t, "f2", dup.ID)
	assert.Equal(t, "Turbidity (copy)", dup.Label)
	assert.Nil(t, dup.Value)
	assert.Equal(t, "NTU", dup.Unit)
	assert.Equal(t, SourceManual, dup.Source)

	_, id = DuplicateField(doc, "sec-a", "nope")
	assert.Empty(t, id)
}
