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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	storebadger "github.com/AleutianAI/techdata/engine/storage/badger"
)

// -----------------------------------------------------------------------------
// Tracer
// -----------------------------------------------------------------------------

var engineTracer = otel.Tracer("techdata.engine")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// DefaultCreatedBy is the actor recorded on versions when the
// configuration does not name one.
const DefaultCreatedBy = "local-editor"

// Config configures an Engine.
type Config struct {
	// Remote is the remote persistence collaborator. Required. The
	// engine wraps it in a SequenceGuard so a write superseded by a
	// later local edit is never the one the remote keeps.
	Remote RemoteStore

	// CachePath is the directory for the durable local cache.
	// Required unless InMemoryCache is true.
	CachePath string

	// InMemoryCache keeps the cache in memory only. Useful for testing.
	InMemoryCache bool

	// CreatedBy is recorded on every version. Default: DefaultCreatedBy.
	CreatedBy string

	// Logger for engine operations. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Remote == nil {
		return errors.New("remote store must not be nil")
	}
	if !c.InMemoryCache && c.CachePath == "" {
		return errors.New("cache_path is required unless in-memory cache is enabled")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// projectState is the per-project state owned by the engine.
type projectState struct {
	doc      Document
	hasDoc   bool
	versions []Version // newest first
	status   Status
	seq      uint64 // write sequence, stamped on every outbound persist
	inflight int    // persist calls currently in flight
}

// Engine is the sync controller: it owns the live document and version
// history per project, mirrors both into the durable cache, and pushes
// the document to the remote collaborator.
//
// Description:
//
//	Every mutation is applied to the in-memory tree synchronously,
//	before any I/O, so a second mutation issued while a persist is in
//	flight observes the latest local state. A failed persist never rolls
//	the local tree back: the editor is the source of truth for the
//	current session, and losing typed edits to a network error is worse
//	than a temporarily unsynced local state. Failures surface as status
//	flags (SyncError, PendingChanges), never as errors to the mutation
//	caller; retry is caller-initiated via RetrySync.
//
//	Construct with New, which rehydrates every cached project from the
//	durable store before returning; until then no mutation API exists,
//	so callers never race rehydration.
//
// Thread Safety: Safe for concurrent use. The mutex covers only the
// synchronous mutation segment; no lock is held across remote I/O.
type Engine struct {
	remote    RemoteStore
	cache     *cache
	db        *badgerdb.DB
	logger    *slog.Logger
	createdBy string

	// loads collapses concurrent unforced loads per project.
	loads singleflight.Group

	mu       sync.Mutex
	projects map[string]*projectState
}

// New creates an engine and rehydrates all cached projects.
//
// Inputs:
//   - cfg: Engine configuration. Remote is required.
//
// Outputs:
//   - *Engine: The engine. Caller must call Close() when done.
//   - error: Non-nil if the configuration is invalid or the cache store
//     cannot be opened.
//
// Thread Safety: Safe for concurrent use after return.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "techdata_engine"))

	createdBy := cfg.CreatedBy
	if createdBy == "" {
		createdBy = DefaultCreatedBy
	}

	var storeCfg storebadger.Config
	if cfg.InMemoryCache {
		storeCfg = storebadger.InMemoryConfig()
	} else {
		storeCfg = storebadger.DefaultConfig(cfg.CachePath)
	}
	storeCfg.Logger = logger
	db, err := storebadger.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open durable cache: %w", err)
	}

	e := &Engine{
		remote:    NewSequenceGuard(cfg.Remote),
		cache:     newCache(db),
		db:        db,
		logger:    logger,
		createdBy: createdBy,
		projects:  make(map[string]*projectState),
	}

	// Rehydration completes before any mutation API is reachable.
	cached, err := e.cache.loadAll()
	if err != nil {
		db.Close()
		return nil, err
	}
	for projectID, p := range cached {
		e.projects[projectID] = &projectState{
			doc:      p.Document,
			hasDoc:   p.Document != nil,
			versions: p.Versions,
		}
	}
	rehydratedProjectsGauge.Set(float64(len(cached)))
	logger.Info("engine rehydrated from durable cache",
		slog.Int("projects", len(cached)),
	)

	return e, nil
}

// Close releases the durable cache store.
func (e *Engine) Close() error {
	return e.db.Close()
}

// ensureLocked returns the project state, creating empty state on first
// touch. Caller holds e.mu.
func (e *Engine) ensureLocked(projectID string) *projectState {
	st, ok := e.projects[projectID]
	if !ok {
		st = &projectState{doc: Document{}}
		e.projects[projectID] = st
	}
	return st
}

// -----------------------------------------------------------------------------
// Read Accessors
// -----------------------------------------------------------------------------

// Sections returns the current section tree for a project.
//
// Returns a stable empty slice before the project has any data; never
// nil, never an error. The returned tree is a deep copy.
func (e *Engine) Sections(projectID string) []Section {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.projects[projectID]
	if !ok || st.doc == nil {
		return []Section{}
	}
	return []Section(st.doc.Clone())
}

// Versions returns the version history for a project, newest first.
//
// Returns a stable empty slice when no history exists. The returned
// versions are deep copies.
func (e *Engine) Versions(projectID string) []Version {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.projects[projectID]
	if !ok || len(st.versions) == 0 {
		return []Version{}
	}
	return cloneVersions(st.versions)
}

// Status returns the sync status surface for a project.
func (e *Engine) Status(projectID string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.projects[projectID]
	if !ok {
		return Status{}
	}
	return st.status
}

// Projects returns the ids of all projects the engine holds state for,
// sorted for stable output.
func (e *Engine) Projects() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.projects))
	for id := range e.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// UpdateField applies one field update.
//
// The mutation is applied locally and durably cached before the remote
// persist starts; a persist failure surfaces on Status, never here. A
// stale section or field id is a silent no-op.
func (e *Engine) UpdateField(ctx context.Context, projectID string, u FieldUpdate) {
	vs := VersionSourceManual
	switch u.Source {
	case SourceAI:
		vs = VersionSourceAI
	case SourceImported:
		vs = VersionSourceImport
	}
	e.mutate(ctx, projectID, vs, func(doc Document) Document {
		if si, _ := findField(doc, u.SectionID, u.FieldID); si < 0 {
			// Silent no-op at the API; a debug line keeps caller bugs
			// discoverable without changing observable behavior.
			e.logger.Debug("field update targeted unknown id",
				slog.String("project_id", projectID),
				slog.String("section_id", u.SectionID),
				slog.String("field_id", u.FieldID),
			)
			return doc
		}
		return UpdateField(doc, u)
	})
}

// ApplyFieldUpdates applies a batch of updates in array order; later
// updates to the same field win. Used for bulk imports.
func (e *Engine) ApplyFieldUpdates(ctx context.Context, projectID string, updates []FieldUpdate) {
	e.mutate(ctx, projectID, VersionSourceImport, func(doc Document) Document {
		return ApplyFieldUpdates(doc, updates)
	})
}

// AddSection appends an empty titled section and returns its id.
func (e *Engine) AddSection(ctx context.Context, projectID, title string) string {
	var id string
	e.mutate(ctx, projectID, VersionSourceManual, func(doc Document) Document {
		var next Document
		next, id = AddSection(doc, title)
		return next
	})
	return id
}

// RemoveSection removes a section; the remainder is renumbered to a
// dense 0-based order.
func (e *Engine) RemoveSection(ctx context.Context, projectID, sectionID string) {
	e.mutate(ctx, projectID, VersionSourceManual, func(doc Document) Document {
		return RemoveSection(doc, sectionID)
	})
}

// UpdateSectionNotes replaces a section's notes.
func (e *Engine) UpdateSectionNotes(ctx context.Context, projectID, sectionID, notes string) {
	e.mutate(ctx, projectID, VersionSourceManual, func(doc Document) Document {
		return UpdateSectionNotes(doc, sectionID, notes)
	})
}

// AddField appends a field to a section and returns the field id, empty
// when the section id is unknown.
func (e *Engine) AddField(ctx context.Context, projectID, sectionID string, f Field) string {
	var id string
	e.mutate(ctx, projectID, VersionSourceManual, func(doc Document) Document {
		var next Document
		next, id = AddField(doc, sectionID, f)
		return next
	})
	return id
}

// RemoveField removes a field from a section.
func (e *Engine) RemoveField(ctx context.Context, projectID, sectionID, fieldID string) {
	e.mutate(ctx, projectID, VersionSourceManual, func(doc Document) Document {
		return RemoveField(doc, sectionID, fieldID)
	})
}

// DuplicateField appends a fresh-id copy of a field (label suffixed,
// value cleared, manual provenance) and returns the new id.
func (e *Engine) DuplicateField(ctx context.Context, projectID, sectionID, fieldID string) string {
	var id string
	e.mutate(ctx, projectID, VersionSourceManual, func(doc Document) Document {
		var next Document
		next, id = DuplicateField(doc, sectionID, fieldID)
		return next
	})
	return id
}

// UpdateFieldLabel replaces a field's label.
func (e *Engine) UpdateFieldLabel(ctx context.Context, projectID, sectionID, fieldID, label string) {
	e.mutate(ctx, projectID, VersionSourceManual, func(doc Document) Document {
		return UpdateFieldLabel(doc, sectionID, fieldID, label)
	})
}

// Reset replaces the project's document with an empty tree. History is
// kept: nothing is ever deleted from it within a session.
func (e *Engine) Reset(ctx context.Context, projectID string) {
	e.mutate(ctx, projectID, VersionSourceManual, func(Document) Document {
		return Document{}
	})
}

// Forget drops all local state for a project: the live document, the
// version history, and the durable cache mirror. The remote copy is not
// touched; a later load rehydrates from it. Unlike Reset, this is not a
// mutation and records nothing in history.
func (e *Engine) Forget(projectID string) error {
	e.mu.Lock()
	delete(e.projects, projectID)
	e.mu.Unlock()

	if err := e.cache.deleteProject(projectID); err != nil {
		return err
	}
	e.logger.Info("project state forgotten",
		slog.String("project_id", projectID),
	)
	return nil
}

// mutate runs the optimistic-apply state machine for one mutation:
// local tree update and cache mirror first, then the remote persist, and
// a post-success snapshot.
func (e *Engine) mutate(ctx context.Context, projectID string, vs VersionSource, fn func(Document) Document) {
	e.mu.Lock()
	st := e.ensureLocked(projectID)
	st.doc = fn(st.doc)
	st.hasDoc = true
	seq, docCopy := e.beginPersistLocked(st)
	e.mu.Unlock()

	e.mirrorDocument(projectID, docCopy)

	if err := e.persist(ctx, projectID, docCopy, seq, "mutation"); err != nil {
		// Applied locally, not yet confirmed. Status carries the rest.
		return
	}

	e.mu.Lock()
	e.saveSnapshotLocked(projectID, st, SnapshotOptions{Source: vs})
	e.mu.Unlock()
}

// beginPersistLocked stamps the next write sequence and flips the state
// machine to Saving. Caller holds e.mu.
func (e *Engine) beginPersistLocked(st *projectState) (uint64, Document) {
	st.seq++
	st.inflight++
	st.status.Saving = true
	st.status.SyncError = ""
	return st.seq, st.doc.Clone()
}

// mirrorDocument writes the document to the durable cache, best-effort.
func (e *Engine) mirrorDocument(projectID string, doc Document) {
	if err := e.cache.putDocument(projectID, doc); err != nil {
		cacheMirrorFailures.Inc()
		e.logger.Warn("document cache mirror failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}
}

// persist pushes one document payload to the remote collaborator and
// applies the success/failure status transitions.
func (e *Engine) persist(ctx context.Context, projectID string, doc Document, seq uint64, trigger string) error {
	ctx, span := engineTracer.Start(ctx, "techdata.persist",
		oteltrace.WithAttributes(
			attribute.String("project_id", projectID),
			attribute.Int64("sequence", int64(seq)),
			attribute.String("trigger", trigger),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := e.remote.Write(ctx, projectID, doc, seq)

	status := "success"
	if err != nil {
		status = "failure"
	}
	syncAttemptsTotal.WithLabelValues(status, trigger).Inc()
	syncDurationHistogram.WithLabelValues(status).Observe(time.Since(start).Seconds())

	e.mu.Lock()
	st := e.ensureLocked(projectID)
	st.inflight--
	st.status.Saving = st.inflight > 0

	if err != nil {
		// The local document is NOT rolled back. Failure is terminal for
		// this attempt, not for the session.
		st.status.SyncError = err.Error()
		st.status.PendingChanges = true
		e.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "remote persist failed")
		e.logger.Warn("remote persist failed, local edits kept",
			slog.String("project_id", projectID),
			slog.Uint64("sequence", seq),
			slog.String("error", err.Error()),
		)
		return err
	}

	savedAt := res.UpdatedAt
	if savedAt == 0 {
		savedAt = time.Now().UnixMilli()
	}
	st.status.LastSaved = savedAt
	st.status.PendingChanges = false
	st.status.SyncError = ""
	e.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// LoadTechnicalData hydrates a project's document from the remote
// collaborator.
//
// Description:
//
//	An unforced load while another load for the same project is in
//	flight does not start a second remote read; it shares the in-flight
//	result. force bypasses the guard.
//
//	A remote with no document yet is not an error: backend-side
//	initialization is assumed pending and the local tree is set to
//	empty. A payload of the wrong shape is logged and degrades to an
//	empty tree without a blocking error, letting the user re-enter
//	data. A transport failure sets the tree to empty, records the
//	message on Status.Error and returns it; the caller decides whether
//	to retry the load.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) LoadTechnicalData(ctx context.Context, projectID string, force bool) error {
	if force {
		return e.doLoad(ctx, projectID)
	}
	_, err, _ := e.loads.Do(projectID, func() (any, error) {
		return nil, e.doLoad(ctx, projectID)
	})
	return err
}

func (e *Engine) doLoad(ctx context.Context, projectID string) error {
	ctx, span := engineTracer.Start(ctx, "techdata.LoadTechnicalData",
		oteltrace.WithAttributes(attribute.String("project_id", projectID)),
	)
	defer span.End()

	e.mu.Lock()
	st := e.ensureLocked(projectID)
	st.status.Loading = true
	st.status.Error = ""
	e.mu.Unlock()

	start := time.Now()
	doc, found, err := e.remote.Read(ctx, projectID)

	e.mu.Lock()
	st.status.Loading = false

	switch {
	case err != nil && errors.Is(err, ErrInvalidPayload):
		// Degrade gracefully: log, empty tree, no blocking error.
		st.doc = Document{}
		st.hasDoc = true
		e.mu.Unlock()
		loadDurationHistogram.WithLabelValues("invalid_payload").Observe(time.Since(start).Seconds())
		e.logger.Warn("remote payload failed validation, starting empty",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		return nil

	case err != nil:
		st.doc = Document{}
		st.hasDoc = true
		st.status.Error = err.Error()
		e.mu.Unlock()
		loadDurationHistogram.WithLabelValues("failure").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote read failed")
		return err

	case !found:
		// No data yet: backend initialization still pending.
		st.doc = Document{}
		st.hasDoc = true
		e.mu.Unlock()
		loadDurationHistogram.WithLabelValues("empty").Observe(time.Since(start).Seconds())
		return nil
	}

	st.doc = doc.Clone()
	st.hasDoc = true
	docCopy := st.doc.Clone()
	e.mu.Unlock()

	loadDurationHistogram.WithLabelValues("success").Observe(time.Since(start).Seconds())

	// Mirror before returning, same as the mutation path: once the load
	// resolves, the cache and the in-memory tree agree.
	e.mirrorDocument(projectID, docCopy)
	return nil
}

// -----------------------------------------------------------------------------
// Retry and Error Dismissal
// -----------------------------------------------------------------------------

// RetrySync re-attempts the remote persist of a project's current
// document.
//
// The payload is the current tree, not the one from the failed attempt:
// any later local edits are included. Follows the same success/failure
// transitions as a mutation's persist. A project without pending changes
// is a no-op.
func (e *Engine) RetrySync(ctx context.Context, projectID string) error {
	e.mu.Lock()
	st, ok := e.projects[projectID]
	if !ok || !st.status.PendingChanges {
		e.mu.Unlock()
		return nil
	}
	seq, docCopy := e.beginPersistLocked(st)
	e.mu.Unlock()

	return e.persist(ctx, projectID, docCopy, seq, "retry")
}

// ClearSyncError dismisses the persist error message. Pure UI dismissal:
// it does not retry and does not clear PendingChanges.
func (e *Engine) ClearSyncError(projectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.projects[projectID]; ok {
		st.status.SyncError = ""
	}
}

// ClearError dismisses the load error message.
func (e *Engine) ClearError(projectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.projects[projectID]; ok {
		st.status.Error = ""
	}
}
