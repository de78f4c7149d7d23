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
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Field Provenance
// -----------------------------------------------------------------------------

// Source records where a field's value came from.
//
// Provenance is set at mutation time, never derived after the fact.
type Source string

const (
	// SourceManual means a user typed the value into the editor.
	SourceManual Source = "manual"

	// SourceAI means the value was filled in by an AI suggestion.
	SourceAI Source = "ai"

	// SourceImported means the value arrived through a bulk import.
	SourceImported Source = "imported"
)

// Valid reports whether s is a known provenance value.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceAI, SourceImported:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Version Provenance
// -----------------------------------------------------------------------------

// VersionSource records what kind of event produced a version.
type VersionSource string

const (
	// VersionSourceManual is an explicit user checkpoint or a hand edit.
	VersionSourceManual VersionSource = "manual"

	// VersionSourceAI is a snapshot taken after an AI-driven update.
	VersionSourceAI VersionSource = "ai"

	// VersionSourceImport is a snapshot taken after a bulk import.
	VersionSourceImport VersionSource = "import"

	// VersionSourceRollback is the version appended when reverting to an
	// earlier snapshot. The rollback itself becomes the newest entry, so
	// history stays a linear append-only log even when data moves backward.
	VersionSourceRollback VersionSource = "rollback"
)

// -----------------------------------------------------------------------------
// Document Tree
// -----------------------------------------------------------------------------

// Field is a single labeled value with provenance.
//
// Value is a JSON scalar (string or number) or nil when empty. Field
// identity (ID) is stable across edits; duplicating a field issues a new
// id and resets value and source.
type Field struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Value  any    `json:"value"`
	Unit   string `json:"unit,omitempty"`
	Source Source `json:"source"`
	Notes  string `json:"notes,omitempty"`
}

// Clone returns a copy of the field. Value is a scalar, so a struct copy
// is a deep copy.
func (f Field) Clone() Field {
	return f
}

// Empty reports whether the field has no value.
func (f Field) Empty() bool {
	return f.Value == nil || f.Value == ""
}

// Section is an ordered group of fields.
//
// Order determines display and iteration order and is renumbered to a
// dense 0-based sequence whenever a section is removed.
type Section struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Order  int     `json:"order"`
	Notes  string  `json:"notes,omitempty"`
	Fields []Field `json:"fields"`
}

// Clone returns a deep copy of the section.
func (s Section) Clone() Section {
	c := s
	c.Fields = make([]Field, len(s.Fields))
	copy(c.Fields, s.Fields)
	return c
}

// Document is the full section/field tree for one project.
//
// Invariants: field ids are unique within a section, section ids are
// unique within a document, and Order values form a dense 0-based
// sequence after any structural mutation.
type Document []Section

// Clone returns a deep copy of the document. Mutation helpers always
// operate on clones; callers never observe shared subtrees.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	c := make(Document, len(d))
	for i, s := range d {
		c[i] = s.Clone()
	}
	return c
}

// FieldCount returns the total number of fields across all sections.
func (d Document) FieldCount() int {
	n := 0
	for _, s := range d {
		n += len(s.Fields)
	}
	return n
}

// -----------------------------------------------------------------------------
// Change
// -----------------------------------------------------------------------------

// ChangeType classifies a field-level diff record.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one field-level diff record between two document snapshots.
//
// ID is "<sectionID>:<fieldID>" and is the natural key for correlating a
// change to a field across versions.
type Change struct {
	ID         string     `json:"id"`
	SectionID  string     `json:"section_id"`
	FieldID    string     `json:"field_id"`
	Label      string     `json:"label"`
	OldValue   any        `json:"old_value"`
	NewValue   any        `json:"new_value"`
	Unit       string     `json:"unit,omitempty"`
	Source     Source     `json:"source"`
	ChangeType ChangeType `json:"change_type"`
}

// changeKey builds the natural key used to correlate fields across
// snapshots.
func changeKey(sectionID, fieldID string) string {
	return fmt.Sprintf("%s:%s", sectionID, fieldID)
}

// -----------------------------------------------------------------------------
// Version
// -----------------------------------------------------------------------------

// Version is an immutable, timestamped snapshot of a document plus its
// diff from the prior version.
//
// Snapshot is always a full deep copy, never a delta. Deltas are derived
// and stored alongside for display, but any version can be materialized
// in O(1) from its snapshot alone.
//
// Thread Safety: Immutable after creation.
type Version struct {
	// ID is an opaque generated identifier.
	ID string `json:"id"`

	// ProjectID keys the history this version belongs to.
	ProjectID string `json:"project_id"`

	// VersionLabel is the human-readable name shown in the history UI.
	VersionLabel string `json:"version_label"`

	// CreatedAt is when this version was created (Unix milliseconds UTC).
	CreatedAt int64 `json:"created_at"`

	// CreatedBy identifies the actor that produced this version.
	CreatedBy string `json:"created_by"`

	// Source records what kind of event produced this version.
	Source VersionSource `json:"source"`

	// Snapshot is the full deep-copied document state.
	Snapshot Document `json:"snapshot"`

	// Changes is the computed diff against the prior version's snapshot.
	Changes []Change `json:"changes"`

	// Notes carries optional context, e.g. a rollback reason.
	Notes string `json:"notes,omitempty"`
}

// Age returns how long ago this version was created.
func (v *Version) Age() time.Duration {
	return time.Since(time.UnixMilli(v.CreatedAt))
}

// cloneVersions deep-copies a version list. Snapshots inside versions are
// never handed out by reference.
func cloneVersions(versions []Version) []Version {
	if versions == nil {
		return nil
	}
	out := make([]Version, len(versions))
	for i, v := range versions {
		out[i] = v
		out[i].Snapshot = v.Snapshot.Clone()
		if v.Changes != nil {
			out[i].Changes = make([]Change, len(v.Changes))
			copy(out[i].Changes, v.Changes)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// Status is the read-only sync surface exposed to UI collaborators.
type Status struct {
	// Loading is true while a remote read is in flight.
	Loading bool `json:"loading"`

	// Saving is true while a remote persist is in flight.
	Saving bool `json:"saving"`

	// LastSaved is the timestamp of the last confirmed remote write
	// (Unix milliseconds UTC), or 0 if never confirmed.
	LastSaved int64 `json:"last_saved"`

	// SyncError is the message of the most recent persist failure, or
	// empty when the last persist succeeded.
	SyncError string `json:"sync_error,omitempty"`

	// Error is the message of the most recent load failure, or empty.
	Error string `json:"error,omitempty"`

	// PendingChanges is true whenever local state has diverged from the
	// last confirmed remote write.
	PendingChanges bool `json:"pending_changes"`
}
