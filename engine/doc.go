// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the local-first versioning and sync engine
// behind the technical-data editor.
//
// # Architecture Overview
//
// The engine sits between the editor UI and the remote persistence
// service, holding the live document in memory, mirroring it into an
// embedded durable cache, and pushing it to the remote asynchronously.
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                          EDITOR UI                            │
//	│      (field edits, section structure, history, status)        │
//	└───────────────────────────────┬───────────────────────────────┘
//	                                │ mutations / accessors
//	                                ▼
//	┌───────────────────────────────────────────────────────────────┐
//	│                       Engine (sync controller)                │
//	│                                                               │
//	│  Document (live tree)  ──diff──▶  Version history (per        │
//	│        │                          project, newest first)      │
//	│        │ mirror                          │ mirror             │
//	│        ▼                                 ▼                    │
//	│  ┌─────────────────────────────────────────────────────────┐  │
//	│  │           Durable cache (BadgerDB, rehydrated           │  │
//	│  │                 once, before any mutation)              │  │
//	│  └─────────────────────────────────────────────────────────┘  │
//	│        │ persist (sequence-guarded, optimistic)               │
//	│        ▼                                                      │
//	│  RemoteStore  (last-write-wins overwrite, narrow contract)    │
//	└───────────────────────────────────────────────────────────────┘
//
// # Core Behavior
//
//   - Mutations apply to the in-memory tree synchronously, before any
//     I/O. A failed remote persist never rolls local edits back; it
//     sets SyncError and PendingChanges for the UI to surface, and
//     RetrySync pushes the then-current tree.
//   - After a confirmed persist, a Version is appended: a full deep
//     copied snapshot plus field-level changes computed against the
//     previous version. Empty non-manual diffs are deduplicated.
//   - RevertToVersion moves the data backward but the history forward:
//     the rollback is recorded as the newest version and nothing is
//     ever deleted from history within a session.
//
// History is local-only; the remote collaborator sees only the current
// document.
package engine
