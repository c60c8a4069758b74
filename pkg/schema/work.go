// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Work is a submission plus the derived object tree rooted at it (spec §3).
type Work struct {
	ID           uuid.UUID              `json:"work_id" db:"id"`
	Org          string                 `json:"org" db:"org"`
	CreatedAt    time.Time              `json:"ctime" db:"t"`
	TTL          time.Duration          `json:"ttl" db:"ttl"`
	MaxDepth     int                    `json:"max_depth" db:"max_depth"`
	RootObjectID uuid.UUID              `json:"root_object_id" db:"root_object_id"`
	RelationMeta map[string]interface{} `json:"relation_metadata,omitempty" db:"-"`
}

// ExpirationUnix returns the absolute unix-seconds deadline encoded on
// broker messages as the `expiration_ts` header (spec §6).
func (w *Work) ExpirationUnix() int64 {
	return w.CreatedAt.Add(w.TTL).Unix()
}

// RemainingTTL returns how much time is left before w expires, relative to now.
// A negative or zero duration means the work has already expired.
func (w *Work) RemainingTTL(now time.Time) time.Duration {
	return w.CreatedAt.Add(w.TTL).Sub(now)
}

// JobResult is the assembled result tree for one object and its descendants,
// as published upward once every child has a terminal result (spec §4.6).
// It mirrors Object/ObjectResult but is an in-memory tree shape, not the
// persisted row shape. No package outside pkg/schema uses it: the Work
// Manager and Broker Adapter assemble results as schema.Object trees.
type JobResult struct {
	ObjectID uuid.UUID
	Result   ObjectResult
	Children []*JobResult
}

// Walk visits the receiver first, then every descendant in pre-order,
// exactly once — the invariant spec §8 names explicitly. visit returning
// false stops the walk early (including of further children of the current
// node), mirroring the idiom of filepath.WalkDir's SkipDir signal but
// collapsed to a single bool since JobResult trees carry no separate
// "skip-dir-but-continue-siblings" case.
func (j *JobResult) Walk(visit func(*JobResult) bool) {
	j.walk(visit)
}

// walk reports whether the traversal should continue.
func (j *JobResult) walk(visit func(*JobResult) bool) bool {
	if j == nil {
		return true
	}
	if !visit(j) {
		return false
	}
	for _, c := range j.Children {
		if !c.walk(visit) {
			return false
		}
	}
	return true
}

// CountNodes returns the number of nodes (self + all descendants) in the tree.
func (j *JobResult) CountNodes() int {
	n := 0
	j.Walk(func(*JobResult) bool {
		n++
		return true
	})
	return n
}
