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
	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Field Updates
// -----------------------------------------------------------------------------

// FieldUpdate describes one field mutation.
//
// Unit and Notes are optional; nil leaves the existing value in place.
// An empty Source defaults to SourceManual, so provenance is always set
// at mutation time.
type FieldUpdate struct {
	SectionID string  `json:"section_id"`
	FieldID   string  `json:"field_id"`
	Value     any     `json:"value"`
	Unit      *string `json:"unit,omitempty"`
	Source    Source  `json:"source,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// UpdateField returns a new document with one field's value, unit, source
// and notes replaced.
//
// Description:
//
//	Unknown section or field ids return the document unchanged. The
//	silent no-op keeps mutation idempotent against stale ids arriving
//	from concurrent UI re-renders.
//
// Inputs:
//   - doc: The current document. May be nil.
//   - u: The update to apply.
//
// Outputs:
//   - Document: A new tree, or doc itself when the target id is absent.
//
// Thread Safety: Pure function; safe for concurrent use.
func UpdateField(doc Document, u FieldUpdate) Document {
	si, fi := findField(doc, u.SectionID, u.FieldID)
	if si < 0 {
		return doc
	}

	next := doc.Clone()
	f := &next[si].Fields[fi]
	f.Value = u.Value
	if u.Unit != nil {
		f.Unit = *u.Unit
	}
	if u.Source.Valid() {
		f.Source = u.Source
	} else {
		f.Source = SourceManual
	}
	if u.Notes != nil {
		f.Notes = *u.Notes
	}
	return next
}

// ApplyFieldUpdates applies a batch of updates in array order.
//
// Later updates to the same field id win. Used by bulk imports.
func ApplyFieldUpdates(doc Document, updates []FieldUpdate) Document {
	next := doc
	for _, u := range updates {
		next = UpdateField(next, u)
	}
	return next
}

// UpdateFieldLabel returns a new document with one field's label replaced.
// Unknown ids are a silent no-op.
func UpdateFieldLabel(doc Document, sectionID, fieldID, label string) Document {
	si, fi := findField(doc, sectionID, fieldID)
	if si < 0 {
		return doc
	}
	next := doc.Clone()
	next[si].Fields[fi].Label = label
	return next
}

// -----------------------------------------------------------------------------
// Section Mutations
// -----------------------------------------------------------------------------

// AddSection returns a new document with an empty section appended.
//
// The new section takes the next Order slot and a generated id, which is
// also returned so callers can address it immediately.
func AddSection(doc Document, title string) (Document, string) {
	next := doc.Clone()
	id := uuid.NewString()
	next = append(next, Section{
		ID:     id,
		Title:  title,
		Order:  len(next),
		Fields: []Field{},
	})
	return next, id
}

// RemoveSection returns a new document without the named section.
//
// Remaining sections keep their relative order and are renumbered to a
// dense 0-based sequence. An unknown id is a silent no-op.
func RemoveSection(doc Document, sectionID string) Document {
	idx := findSection(doc, sectionID)
	if idx < 0 {
		return doc
	}
	next := make(Document, 0, len(doc)-1)
	for i, s := range doc {
		if i == idx {
			continue
		}
		c := s.Clone()
		c.Order = len(next)
		next = append(next, c)
	}
	return next
}

// UpdateSectionNotes returns a new document with one section's notes
// replaced. Unknown ids are a silent no-op.
func UpdateSectionNotes(doc Document, sectionID, notes string) Document {
	idx := findSection(doc, sectionID)
	if idx < 0 {
		return doc
	}
	next := doc.Clone()
	next[idx].Notes = notes
	return next
}

// -----------------------------------------------------------------------------
// Field Structure Mutations
// -----------------------------------------------------------------------------

// AddField returns a new document with a field appended to the named
// section.
//
// An empty field id is replaced with a generated one; an invalid source
// defaults to manual. An unknown section id is a silent no-op, in which
// case the returned id is empty.
func AddField(doc Document, sectionID string, f Field) (Document, string) {
	idx := findSection(doc, sectionID)
	if idx < 0 {
		return doc, ""
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if !f.Source.Valid() {
		f.Source = SourceManual
	}
	next := doc.Clone()
	next[idx].Fields = append(next[idx].Fields, f)
	return next, f.ID
}

// RemoveField returns a new document without the named field. Unknown ids
// are a silent no-op.
func RemoveField(doc Document, sectionID, fieldID string) Document {
	si, fi := findField(doc, sectionID, fieldID)
	if si < 0 {
		return doc
	}
	next := doc.Clone()
	next[si].Fields = append(next[si].Fields[:fi], next[si].Fields[fi+1:]...)
	return next
}

// DuplicateField returns a new document with a copy of the named field
// appended to its section.
//
// The copy gets a fresh id, a "(copy)" label suffix, an empty value and
// manual provenance: a duplicate is a template for the user to fill in,
// not a second claim of the original's source. Unknown ids are a silent
// no-op with an empty returned id.
func DuplicateField(doc Document, sectionID, fieldID string) (Document, string) {
	si, fi := findField(doc, sectionID, fieldID)
	if si < 0 {
		return doc, ""
	}
	next := doc.Clone()
	dup := next[si].Fields[fi].Clone()
	dup.ID = uuid.NewString()
	dup.Label = dup.Label + " (copy)"
	dup.Value = nil
	dup.Source = SourceManual
	next[si].Fields = append(next[si].Fields, dup)
	return next, dup.ID
}

// -----------------------------------------------------------------------------
// Lookup Helpers
// -----------------------------------------------------------------------------

// findSection returns the index of the section with the given id, or -1.
func findSection(doc Document, sectionID string) int {
	for i, s := range doc {
		if s.ID == sectionID {
			return i
		}
	}
	return -1
}

// findField returns the section and field indexes of the given ids, or
// (-1, -1) when either is absent.
func findField(doc Document, sectionID, fieldID string) (int, int) {
	si := findSection(doc, sectionID)
	if si < 0 {
		return -1, -1
	}
	for fi, f := range doc[si].Fields {
		if f.ID == fieldID {
			return si, fi
		}
	}
	return -1, -1
}
