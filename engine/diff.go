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

import "reflect"

// -----------------------------------------------------------------------------
// Diff Engine
// -----------------------------------------------------------------------------

// prevEntry is one field of the previous snapshot in the diff lookup.
type prevEntry struct {
	sectionID string
	field     Field
}

// ComputeChanges computes the field-level diff between two document
// snapshots.
//
// Description:
//
//	Builds a lookup of every field in previous keyed by
//	"<sectionID>:<fieldID>", then walks every field in current exactly
//	once. A key absent from the lookup is emitted as added (old value
//	nil); a present key is compared on value and unit and emitted as
//	modified when either differs. Every visited key is consumed from the
//	lookup, so the keys left over afterwards are exactly the fields
//	present before and absent now, emitted as removed (new value nil).
//	A nil previous treats every current field as added.
//
//	Output order follows current-document traversal for additions and
//	modifications and lookup iteration for removals; callers must not
//	assume a total order across change types.
//
//	A field id removed and reused by an unrelated field in the same
//	transition is indistinguishable from a value edit and is reported as
//	modified. This imprecision is inherent to keying purely by id and is
//	accepted: ids are caller-generated and reuse is not expected.
//
// Inputs:
//   - previous: The prior snapshot. Nil for a first version.
//   - current: The new snapshot. Must not alias previous.
//   - source: Provenance stamped on every emitted change.
//
// Outputs:
//   - []Change: The diff. Empty (non-nil) when the snapshots match.
//
// Thread Safety: Pure function; safe for concurrent use.
func ComputeChanges(previous, current Document, source Source) []Change {
	lookup := make(map[string]prevEntry, previous.FieldCount())
	for _, s := range previous {
		for _, f := range s.Fields {
			lookup[changeKey(s.ID, f.ID)] = prevEntry{sectionID: s.ID, field: f}
		}
	}

	changes := make([]Change, 0)

	for _, s := range current {
		for _, f := range s.Fields {
			key := changeKey(s.ID, f.ID)
			prev, ok := lookup[key]
			if !ok {
				changes = append(changes, Change{
					ID:         key,
					SectionID:  s.ID,
					FieldID:    f.ID,
					Label:      f.Label,
					OldValue:   nil,
					NewValue:   f.Value,
					Unit:       f.Unit,
					Source:     source,
					ChangeType: ChangeAdded,
				})
				continue
			}
			delete(lookup, key)
			if !scalarEqual(prev.field.Value, f.Value) || prev.field.Unit != f.Unit {
				changes = append(changes, Change{
					ID:         key,
					SectionID:  s.ID,
					FieldID:    f.ID,
					Label:      f.Label,
					OldValue:   prev.field.Value,
					NewValue:   f.Value,
					Unit:       f.Unit,
					Source:     source,
					ChangeType: ChangeModified,
				})
			}
		}
	}

	for key, prev := range lookup {
		changes = append(changes, Change{
			ID:         key,
			SectionID:  prev.sectionID,
			FieldID:    prev.field.ID,
			Label:      prev.field.Label,
			OldValue:   prev.field.Value,
			NewValue:   nil,
			Unit:       prev.field.Unit,
			Source:     source,
			ChangeType: ChangeRemoved,
		})
	}

	return changes
}

// scalarEqual compares two field values by strict equality.
//
// Values are JSON scalars (string, number, bool or nil) per the document
// contract, so interface equality is the normal path. A non-comparable
// value smuggled in despite the contract (a decoded JSON array or
// object) would make `==` panic at runtime, so those fall back to a
// deep comparison.
func scalarEqual(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if (ta != nil && !ta.Comparable()) || (tb != nil && !tb.Comparable()) {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}
