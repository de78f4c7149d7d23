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

// -----------------------------------------------------------------------------
// Read-Model Projections
// -----------------------------------------------------------------------------

// SummaryRow is one flattened field with its section context, suitable
// for table rendering and export.
type SummaryRow struct {
	SectionID    string `json:"section_id"`
	SectionTitle string `json:"section_title"`
	FieldID      string `json:"field_id"`
	Label        string `json:"label"`
	Value        any    `json:"value"`
	Unit         string `json:"unit,omitempty"`
	Source       Source `json:"source"`
	Notes        string `json:"notes,omitempty"`
}

// CompletionRatio returns the fraction of fields with a non-empty value,
// in [0, 1]. A document with no fields is 0.
func CompletionRatio(doc Document) float64 {
	total := 0
	filled := 0
	for _, s := range doc {
		for _, f := range s.Fields {
			total++
			if !f.Empty() {
				filled++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(filled) / float64(total)
}

// SourceBreakdown returns field counts grouped by provenance.
func SourceBreakdown(doc Document) map[Source]int {
	out := make(map[Source]int)
	for _, s := range doc {
		for _, f := range s.Fields {
			out[f.Source]++
		}
	}
	return out
}

// SummaryRows flattens the document into one row per field, in section
// order then field order.
func SummaryRows(doc Document) []SummaryRow {
	rows := make([]SummaryRow, 0, doc.FieldCount())
	for _, s := range doc {
		for _, f := range s.Fields {
			rows = append(rows, SummaryRow{
				SectionID:    s.ID,
				SectionTitle: s.Title,
				FieldID:      f.ID,
				Label:        f.Label,
				Value:        f.Value,
				Unit:         f.Unit,
				Source:       f.Source,
				Notes:        f.Notes,
			})
		}
	}
	return rows
}
