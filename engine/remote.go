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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// -----------------------------------------------------------------------------
// Remote Store Contract
// -----------------------------------------------------------------------------

// ErrInvalidPayload indicates the remote returned data that does not
// match the expected section-tree shape. Recoverable: the controller
// logs it and treats the tree as empty.
var ErrInvalidPayload = errors.New("remote payload does not match document shape")

// WriteResult is the remote collaborator's acknowledgement of a write.
type WriteResult struct {
	// UpdatedAt is the remote-side timestamp of the write (Unix
	// milliseconds UTC), or 0 if the remote did not report one.
	UpdatedAt int64 `json:"updated_at"`

	// Progress is the remote-computed completion percentage, if any.
	Progress float64 `json:"progress"`
}

// RemoteStore is the narrow save/read contract to the remote persistence
// service.
//
// Write must be safe to call repeatedly with the same or superseding
// payload: full overwrite, last write wins, no merge semantics. seq is a
// monotonically increasing per-project sequence number; implementations
// may use it to ignore writes superseded by a later local edit.
type RemoteStore interface {
	// Read returns the document for a project, or found=false when the
	// remote has no data yet. A payload of the wrong shape returns
	// ErrInvalidPayload.
	Read(ctx context.Context, projectID string) (doc Document, found bool, err error)

	// Write overwrites the remote document for a project.
	Write(ctx context.Context, projectID string, doc Document, seq uint64) (WriteResult, error)
}

// -----------------------------------------------------------------------------
// Sequence Guard
// -----------------------------------------------------------------------------

// SequenceGuard wraps a RemoteStore and drops writes that carry a lower
// sequence number than the last accepted one for the same project.
//
// Description:
//
//	Outbound persists are not serialized against each other, so under
//	rapid edits an older write can reach the remote after a newer one.
//	The guard makes "last local edit wins" deterministic instead of a
//	network-timing race: a stale write is acknowledged locally without
//	touching the remote, because a newer payload already covers it.
//
// Thread Safety: Safe for concurrent use.
type SequenceGuard struct {
	inner RemoteStore

	mu       sync.Mutex
	accepted map[string]uint64
}

// NewSequenceGuard wraps inner with per-project write ordering.
func NewSequenceGuard(inner RemoteStore) *SequenceGuard {
	return &SequenceGuard{
		inner:    inner,
		accepted: make(map[string]uint64),
	}
}

// Read delegates to the wrapped store.
func (g *SequenceGuard) Read(ctx context.Context, projectID string) (Document, bool, error) {
	return g.inner.Read(ctx, projectID)
}

// Write forwards the write unless a higher sequence was already accepted
// for the project.
func (g *SequenceGuard) Write(ctx context.Context, projectID string, doc Document, seq uint64) (WriteResult, error) {
	g.mu.Lock()
	if seq <= g.accepted[projectID] {
		g.mu.Unlock()
		// Superseded by a newer local edit that already persisted.
		return WriteResult{UpdatedAt: time.Now().UnixMilli()}, nil
	}
	g.mu.Unlock()

	res, err := g.inner.Write(ctx, projectID, doc, seq)
	if err != nil {
		return WriteResult{}, err
	}

	g.mu.Lock()
	if seq > g.accepted[projectID] {
		g.accepted[projectID] = seq
	}
	g.mu.Unlock()
	return res, nil
}

// -----------------------------------------------------------------------------
// HTTP Remote Store
// -----------------------------------------------------------------------------

// sequenceHeader carries the per-project write sequence so a remote-side
// wrapper can enforce ordering across processes.
const sequenceHeader = "X-Write-Sequence"

// remotePayload is the wire shape of a document read or write.
type remotePayload struct {
	Sections []remoteSection `json:"sections" validate:"dive"`
}

type remoteSection struct {
	ID     string        `json:"id" validate:"required"`
	Title  string        `json:"title"`
	Order  int           `json:"order" validate:"gte=0"`
	Notes  string        `json:"notes,omitempty"`
	Fields []remoteField `json:"fields" validate:"dive"`
}

type remoteField struct {
	ID     string `json:"id" validate:"required"`
	Label  string `json:"label"`
	Value  any    `json:"value"`
	Unit   string `json:"unit,omitempty"`
	Source Source `json:"source" validate:"omitempty,oneof=manual ai imported"`
	Notes  string `json:"notes,omitempty"`
}

// HTTPRemoteStoreConfig configures the HTTP client for the remote
// persistence service.
type HTTPRemoteStoreConfig struct {
	// BaseURL is the service root, e.g. "https://api.example.com".
	BaseURL string

	// AuthToken is sent as a bearer token when non-empty.
	AuthToken string

	// Client is the HTTP client to use. Timeout policy belongs to the
	// transport, not this subsystem. If nil, http.DefaultClient is used.
	Client *http.Client
}

// Validate checks if the configuration is valid.
func (c *HTTPRemoteStoreConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url must not be empty")
	}
	return nil
}

// HTTPRemoteStore implements RemoteStore against a REST service:
//
//	GET /projects/{id}/technical-data   -> 200 {sections} | 404
//	PUT /projects/{id}/technical-data   -> 200 {updated_at, progress}
//
// Thread Safety: Safe for concurrent use.
type HTTPRemoteStore struct {
	cfg      HTTPRemoteStoreConfig
	client   *http.Client
	validate *validator.Validate
}

// NewHTTPRemoteStore creates an HTTP-backed remote store.
func NewHTTPRemoteStore(cfg HTTPRemoteStoreConfig) (*HTTPRemoteStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRemoteStore{
		cfg:      cfg,
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (s *HTTPRemoteStore) url(projectID string) string {
	return fmt.Sprintf("%s/projects/%s/technical-data", s.cfg.BaseURL, projectID)
}

func (s *HTTPRemoteStore) authorize(req *http.Request) {
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}
}

// Read fetches the document for a project. A 404 is the "no data yet"
// sentinel, not an error. A 200 body that fails shape validation returns
// ErrInvalidPayload.
func (s *HTTPRemoteStore) Read(ctx context.Context, projectID string) (Document, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(projectID), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build read request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", projectID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return nil, false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("read %s: remote returned %d: %s", projectID, resp.StatusCode, body)
	}

	var payload remotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := s.validate.Struct(&payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validateScalarValues(payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payloadToDocument(payload), true, nil
}

// validateScalarValues rejects field values outside the document
// contract. The struct validator cannot constrain an `any` field, and a
// JSON array or object slipping through here would violate the scalar
// invariant every later consumer relies on.
func validateScalarValues(p remotePayload) error {
	for _, s := range p.Sections {
		for _, f := range s.Fields {
			switch f.Value.(type) {
			case nil, string, float64, bool:
			default:
				return fmt.Errorf("section %s field %s: value must be a scalar, got %T", s.ID, f.ID, f.Value)
			}
		}
	}
	return nil
}

// Write overwrites the remote document, carrying the write sequence in a
// header so a remote-side guard can ignore superseded writes.
func (s *HTTPRemoteStore) Write(ctx context.Context, projectID string, doc Document, seq uint64) (WriteResult, error) {
	body, err := json.Marshal(documentToPayload(doc))
	if err != nil {
		return WriteResult{}, fmt.Errorf("encode document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url(projectID), bytes.NewReader(body))
	if err != nil {
		return WriteResult{}, fmt.Errorf("build write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sequenceHeader, strconv.FormatUint(seq, 10))
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", projectID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return WriteResult{}, fmt.Errorf("write %s: remote returned %d: %s", projectID, resp.StatusCode, msg)
	}

	var res WriteResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil && err != io.EOF {
		// The write landed; a malformed acknowledgement is not a failure.
		return WriteResult{}, nil
	}
	return res, nil
}

// -----------------------------------------------------------------------------
// Wire Conversion
// -----------------------------------------------------------------------------

func payloadToDocument(p remotePayload) Document {
	doc := make(Document, 0, len(p.Sections))
	for _, s := range p.Sections {
		sec := Section{
			ID:     s.ID,
			Title:  s.Title,
			Order:  s.Order,
			Notes:  s.Notes,
			Fields: make([]Field, 0, len(s.Fields)),
		}
		for _, f := range s.Fields {
			src := f.Source
			if !src.Valid() {
				src = SourceManual
			}
			sec.Fields = append(sec.Fields, Field{
				ID:     f.ID,
				Label:  f.Label,
				Value:  f.Value,
				Unit:   f.Unit,
				Source: src,
				Notes:  f.Notes,
			})
		}
		doc = append(doc, sec)
	}
	return doc
}

func documentToPayload(doc Document) remotePayload {
	p := remotePayload{Sections: make([]remoteSection, 0, len(doc))}
	for _, s := range doc {
		sec := remoteSection{
			ID:     s.ID,
			Title:  s.Title,
			Order:  s.Order,
			Notes:  s.Notes,
			Fields: make([]remoteField, 0, len(s.Fields)),
		}
		for _, f := range s.Fields {
			sec.Fields = append(sec.Fields, remoteField{
				ID:     f.ID,
				Label:  f.Label,
				Value:  f.Value,
				Unit:   f.Unit,
				Source: f.Source,
				Notes:  f.Notes,
			})
		}
		p.Sections = append(p.Sections, sec)
	}
	return p
}
