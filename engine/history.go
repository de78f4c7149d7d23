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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// -----------------------------------------------------------------------------
// Version Store
// -----------------------------------------------------------------------------

// SnapshotOptions configures an explicit checkpoint.
type SnapshotOptions struct {
	// Label is the version name. Empty defaults to "Version N".
	Label string

	// Source records what produced the snapshot. Empty defaults to
	// VersionSourceManual.
	Source VersionSource

	// Notes carries optional checkpoint context.
	Notes string
}

// SaveSnapshot appends a version of the project's current document to its
// history.
//
// Description:
//
//	Computes changes against the most recent version's snapshot, or
//	treats every field as added when no history exists. Dedup rule: an
//	empty change set with existing history and a non-manual source
//	returns the existing latest version instead of appending, so
//	automated saves that changed nothing (retries, idle autosaves) do
//	not pile up noise. Manual saves always append: a user may create an
//	explicit checkpoint even with no diff.
//
//	History is local-only and never synchronized to the remote
//	collaborator; it is mirrored into the durable cache best-effort.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - projectID: The project whose document to snapshot.
//   - opts: Optional label/source/notes. Nil uses defaults.
//
// Outputs:
//   - *Version: The appended (or deduplicated latest) version, or nil
//     when the project has no current document.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) SaveSnapshot(ctx context.Context, projectID string, opts *SnapshotOptions) *Version {
	_, span := engineTracer.Start(ctx, "techdata.SaveSnapshot",
		oteltrace.WithAttributes(attribute.String("project_id", projectID)),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.projects[projectID]
	if !ok || !st.hasDoc {
		span.SetStatus(codes.Ok, "no document")
		return nil
	}

	var o SnapshotOptions
	if opts != nil {
		o = *opts
	}
	return e.saveSnapshotLocked(projectID, st, o)
}

// saveSnapshotLocked implements SaveSnapshot. Caller holds e.mu.
func (e *Engine) saveSnapshotLocked(projectID string, st *projectState, opts SnapshotOptions) *Version {
	if opts.Source == "" {
		opts.Source = VersionSourceManual
	}

	var previous Document
	if len(st.versions) > 0 {
		previous = st.versions[0].Snapshot
	}
	changes := ComputeChanges(previous, st.doc, changeSource(opts.Source))

	if len(changes) == 0 && len(st.versions) > 0 && opts.Source != VersionSourceManual {
		snapshotsDeduped.Inc()
		latest := cloneVersions(st.versions[:1])
		return &latest[0]
	}

	label := opts.Label
	if label == "" {
		label = fmt.Sprintf("Version %d", len(st.versions)+1)
	}

	v := Version{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		VersionLabel: label,
		CreatedAt:    time.Now().UnixMilli(),
		CreatedBy:    e.createdBy,
		Source:       opts.Source,
		Snapshot:     st.doc.Clone(),
		Changes:      changes,
		Notes:        opts.Notes,
	}

	// Prepend: history is newest first.
	st.versions = append([]Version{v}, st.versions...)
	snapshotsTotal.WithLabelValues(string(v.Source)).Inc()

	if err := e.cache.putVersions(projectID, st.versions); err != nil {
		cacheMirrorFailures.Inc()
		e.logger.Warn("version history cache mirror failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}

	out := cloneVersions(st.versions[:1])
	return &out[0]
}

// RevertToVersion replaces the live document with a deep copy of an
// earlier version's snapshot.
//
// Description:
//
//	An unknown version id is a silent no-op. Otherwise the document is
//	reverted locally, persisted through the normal sync path, and on
//	success a new rollback-sourced version referencing the target is
//	appended, carrying reason as its notes. Nothing is deleted from
//	history: the rollback becomes the newest entry and the reverted-from
//	version stays at its original position.
//
//	On persist failure the document stays reverted locally with
//	PendingChanges set, and no rollback version is recorded; a later
//	RetrySync follows the usual transitions.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - projectID: The project to revert.
//   - versionID: The target version's id.
//   - reason: Optional rollback reason, stored as version notes.
//
// Outputs:
//   - error: Non-nil if the remote persist failed.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) RevertToVersion(ctx context.Context, projectID, versionID, reason string) error {
	ctx, span := engineTracer.Start(ctx, "techdata.RevertToVersion",
		oteltrace.WithAttributes(
			attribute.String("project_id", projectID),
			attribute.String("version_id", versionID),
		),
	)
	defer span.End()

	e.mu.Lock()
	st, ok := e.projects[projectID]
	if !ok {
		e.mu.Unlock()
		return nil
	}

	var target *Version
	for i := range st.versions {
		if st.versions[i].ID == versionID {
			target = &st.versions[i]
			break
		}
	}
	if target == nil {
		e.mu.Unlock()
		e.logger.Debug("revert to unknown version id ignored",
			slog.String("project_id", projectID),
			slog.String("version_id", versionID),
		)
		return nil
	}

	targetLabel := target.VersionLabel
	st.doc = target.Snapshot.Clone()
	st.hasDoc = true
	seq, docCopy := e.beginPersistLocked(st)
	e.mu.Unlock()

	e.mirrorDocument(projectID, docCopy)

	if err := e.persist(ctx, projectID, docCopy, seq, "revert"); err != nil {
		span.SetStatus(codes.Error, "persist failed")
		return err
	}

	rollbacksTotal.Inc()

	e.mu.Lock()
	e.saveSnapshotLocked(projectID, st, SnapshotOptions{
		Label:  fmt.Sprintf("Rollback to %s", targetLabel),
		Source: VersionSourceRollback,
		Notes:  reason,
	})
	e.mu.Unlock()
	return nil
}

// changeSource maps a version source to the field provenance stamped on
// its diff records.
func changeSource(vs VersionSource) Source {
	switch vs {
	case VersionSourceAI:
		return SourceAI
	case VersionSourceImport:
		return SourceImported
	default:
		return SourceManual
	}
}
