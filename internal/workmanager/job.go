// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package workmanager

import (
	"time"

	"github.com/google/uuid"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/backend"
)

// JobRequest is the wire shape of one request-queue message (spec §4.6,
// §6): enough of the object and its carried symbols/relation metadata for
// the backend invocation, plus the bookkeeping the manager needs to
// assemble and route the aggregated result once this job (and any children
// it produces) completes.
type JobRequest struct {
	WorkID uuid.UUID `json:"work_id"`

	// RowID is the object's own already-assigned row id (schema.NewChildObject
	// mints it at materialisation time). It has to be carried across the wire
	// because backend.ObjectDescriptor carries no row identity of its own —
	// without it, objectFromRequest would have to mint a fresh id and orphan
	// the rels edge the parent already inserted pointing at the real one.
	RowID uuid.UUID `json:"row_id"`

	// Object is everything the backend needs in its request shape (spec §6).
	Object backend.ObjectDescriptor `json:"object"`

	CarriedSymbols []string               `json:"symbols"`
	RelationMeta   map[string]interface{} `json:"relation_metadata"`

	// IsEntry marks the work's root object. A completed entry job is
	// persisted and announced to the Scenario Evaluator instead of being
	// published upward to a parent's correlation id (spec §4.6).
	IsEntry bool `json:"is_entry"`

	// ExpiresAt is the work-wide deadline (spec §3 "expiration_ts"),
	// copied unchanged onto every descendant job so the whole tree shares
	// one TTL.
	ExpiresAt time.Time `json:"expires_at"`
}

// A results-queue message body is simply the JSON-marshaled *schema.Object
// PendingResult.Assemble produced: schema.Object already carries its own
// Result (with nested Children recursively assembled), so no separate
// wire type is needed to describe "a completed job's result".

// DirectorMessage is published to the director queue once a work's root
// object has a terminal result (spec §6 "Director queue").
type DirectorMessage struct {
	WorkID uuid.UUID `json:"work_id"`
}
