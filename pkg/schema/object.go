// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema holds the data model shared by every core component:
// objects, works, the rule AST, compiled rules, scenarios and patterns.
package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

var symbolAlphabet = regexp.MustCompile(`^[A-Z0-9_]+$`)

// SanitizeSymbol uppercases and strips anything outside [A-Z0-9_] so that
// extractor output can never smuggle characters a rule predicate could not
// safely match against.
func SanitizeSymbol(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range []rune(s) {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-('a'-'A'))
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_':
			out = append(out, r)
		}
	}
	return string(out)
}

// SanitizeMetaKey applies the same alphabet restriction as SanitizeSymbol to
// object_metadata keys.
func SanitizeMetaKey(s string) string {
	return SanitizeSymbol(s)
}

// Hashes maps an algorithm name ("sha256", "sha1", "md5", ...) to its hex digest.
type Hashes map[string]string

// Value/Scan let sqlx read and write Hashes directly as the `objects.hashes`
// jsonb column, the way the pack's jsonb-backed model types do.
func (h Hashes) Value() (driver.Value, error) {
	return json.Marshal(h)
}

func (h *Hashes) Scan(src interface{}) error {
	if src == nil {
		*h = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("schema: Hashes.Scan: unsupported type %T", src)
	}
	return json.Unmarshal(b, h)
}

// ObjectResult is the tagged sum type `ok | error` from spec §3. Exactly one
// of Ok/Err may be populated; use NewOkResult/NewErrorResult to construct it
// so the invariant (error implies no children) can never be violated.
type ObjectResult struct {
	ok  *OkResult
	err *ErrorResult
}

type OkResult struct {
	Symbols        []string               `json:"symbols"`
	ObjectMetadata map[string]interface{} `json:"object_metadata"`
	Children       []*Object              `json:"children"`
}

type ErrorResult struct {
	Message string `json:"message"`
}

func NewOkResult(symbols []string, meta map[string]interface{}, children []*Object) ObjectResult {
	sanitized := make([]string, len(symbols))
	for i, s := range symbols {
		sanitized[i] = SanitizeSymbol(s)
	}
	sanitized = dedupSorted(sanitized)

	sanitizedMeta := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		sanitizedMeta[SanitizeMetaKey(k)] = v
	}

	return ObjectResult{ok: &OkResult{Symbols: sanitized, ObjectMetadata: sanitizedMeta, Children: children}}
}

func NewErrorResult(message string) ObjectResult {
	return ObjectResult{err: &ErrorResult{Message: message}}
}

func (r ObjectResult) IsOk() bool           { return r.ok != nil }
func (r ObjectResult) Ok() (*OkResult, bool) { return r.ok, r.ok != nil }
func (r ObjectResult) Err() (*ErrorResult, bool) { return r.err, r.err != nil }

func dedupSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	var last string
	for i, s := range in {
		if i == 0 || s != last {
			out = append(out, s)
			last = s
		}
	}
	return out
}

// MarshalJSON renders the ok/error variant as `{"ok": {...}}` or
// `{"error": "..."}`, matching the backend reply shape of spec §6 so the
// same type can represent both a backend reply and a persisted object result.
func (r ObjectResult) MarshalJSON() ([]byte, error) {
	if r.ok != nil {
		return json.Marshal(struct {
			Ok *OkResult `json:"ok"`
		}{r.ok})
	}
	if r.err != nil {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.err.Message})
	}
	return nil, fmt.Errorf("schema: ObjectResult has neither ok nor error set")
}

func (r *ObjectResult) UnmarshalJSON(data []byte) error {
	var probe struct {
		Ok    *OkResult `json:"ok"`
		Error *string   `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Ok != nil && probe.Error != nil {
		// Spec §4.4: both keys present -> error wins, caller is expected to log a warning.
		r.err = &ErrorResult{Message: *probe.Error}
		return nil
	}
	if probe.Error != nil {
		r.err = &ErrorResult{Message: *probe.Error}
		return nil
	}
	if probe.Ok != nil {
		r.ok = probe.Ok
		return nil
	}
	return fmt.Errorf("schema: object result has neither ok nor error key")
}

// Value/Scan let sqlx read and write ObjectResult directly as the
// `objects.result` jsonb column.
func (r ObjectResult) Value() (driver.Value, error) {
	return r.MarshalJSON()
}

func (r *ObjectResult) Scan(src interface{}) error {
	if src == nil {
		return fmt.Errorf("schema: ObjectResult.Scan: column was NULL")
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("schema: ObjectResult.Scan: unsupported type %T", src)
	}
	return r.UnmarshalJSON(b)
}

// HasBothKeys reports whether the raw reply carried both `ok` and `error`
// keys, used by the Work Manager to decide whether to log the §4.4 warning.
func HasBothKeys(data []byte) bool {
	var probe struct {
		Ok    json.RawMessage `json:"ok"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Ok != nil && probe.Error != nil
}

// Object is one node of the derived artifact tree (spec §3). The store's
// abstract schema (spec §4.8) names `id` and `object_id` as separate
// columns: ID is the row's surrogate key, used for `rels` joins and as the
// SQL anchor target; ObjectID is the content-addressable identity spec §3
// names explicitly ("Identity: a content-addressable object_id"), derived
// from Hashes rather than assigned.
type Object struct {
	ID             uuid.UUID               `json:"id" db:"id"`
	ObjectID       string                  `json:"object_id" db:"object_id"`
	WorkID         uuid.UUID               `json:"work_id" db:"work_id"`
	Org            string                  `json:"org" db:"org"`
	ObjectType     string                  `json:"object_type" db:"object_type"`
	ObjectSubtype  *string                 `json:"object_subtype,omitempty" db:"object_subtype"`
	RecursionLevel int                     `json:"recursion_level" db:"recursion_level"`
	Size           int64                   `json:"size" db:"size"`
	Hashes         Hashes                  `json:"hashes" db:"hashes"`
	Entropy        *float64                `json:"entropy,omitempty" db:"entropy"`
	CreatedAt      time.Time               `json:"ctime" db:"t"`
	IsEntry        bool                    `json:"is_entry" db:"is_entry"`
	Result         ObjectResult            `json:"result" db:"result"`
	RelationMeta   map[string]interface{}  `json:"relation_metadata,omitempty" db:"-"`
}

// contentIDAlgoPreference is the digest algorithm chosen for the
// content-addressable ObjectID when more than one hash is available,
// preferring the strongest available algorithm.
var contentIDAlgoPreference = []string{"sha256", "sha1", "md5"}

// ContentAddress derives the content-addressable object_id from a hash map,
// formatted "<algo>:<hex>" so the column stays unambiguous across algorithms.
// Returns "" if hashes carries none of the recognised algorithms.
func ContentAddress(hashes Hashes) string {
	for _, algo := range contentIDAlgoPreference {
		if digest, ok := hashes[algo]; ok && digest != "" {
			return algo + ":" + digest
		}
	}
	return ""
}

// NewChildObject builds a child at RecursionLevel = parent.RecursionLevel+1,
// enforcing the spec §3 invariant "recursion level is strictly parent+1".
func NewChildObject(parent *Object, objectType string, size int64, hashes Hashes) *Object {
	return &Object{
		ID:             uuid.New(),
		ObjectID:       ContentAddress(hashes),
		WorkID:         parent.WorkID,
		Org:            parent.Org,
		ObjectType:     objectType,
		RecursionLevel: parent.RecursionLevel + 1,
		Size:           size,
		Hashes:         hashes,
		CreatedAt:      time.Now().UTC(),
	}
}

// GlobalRelationKey is the reserved relation-metadata key propagated from a
// parent to every descendant on materialisation (spec §3, §4.5).
const GlobalRelationKey = "_global"

// PropagateGlobal copies the parent's "_global" relation metadata entry onto
// child, if present, per spec §4.5 "Relation metadata propagation".
func PropagateGlobal(parent, child *Object) {
	if parent.RelationMeta == nil {
		return
	}
	g, ok := parent.RelationMeta[GlobalRelationKey]
	if !ok {
		return
	}
	if child.RelationMeta == nil {
		child.RelationMeta = map[string]interface{}{}
	}
	child.RelationMeta[GlobalRelationKey] = g
}
