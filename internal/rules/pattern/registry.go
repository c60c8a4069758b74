// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pattern

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// Registry accumulates the patterns referenced by a single rule compile
// (spec §4.3, §8: "a registry dump after a rule compile yields exactly the
// set of patterns referenced by that compile, each exactly once"). A fresh
// Registry is created per Rule Compiler invocation; Store (store.go) is the
// separate, process-wide persistence layer the external matcher reads from.
type Registry struct {
	byKey map[string]*schema.Pattern
	order []*schema.Pattern
}

func NewRegistry() *Registry {
	return &Registry{byKey: map[string]*schema.Pattern{}}
}

// Register canonicalises raw and returns its Pattern, computing it once per
// distinct canonical form and reusing the same Pattern value — and hence the
// same Name — for repeated or textually-different-but-canonically-equal
// inputs seen by this Registry.
func (r *Registry) Register(raw string) (*schema.Pattern, error) {
	anchor, body, err := Canonicalize(raw)
	if err != nil {
		return nil, err
	}
	key := anchor + ":" + body
	if p, ok := r.byKey[key]; ok {
		return p, nil
	}

	name := Name(key)
	p := &schema.Pattern{
		Name:      name,
		Canonical: key,
		Signature: fmt.Sprintf("%s:0:%s:%s", name, anchor, body),
	}
	r.byKey[key] = p
	r.order = append(r.order, p)
	return p, nil
}

// Dump returns every distinct pattern registered so far, in first-registered order.
func (r *Registry) Dump() []*schema.Pattern {
	out := make([]*schema.Pattern, len(r.order))
	copy(out, r.order)
	return out
}

// Name computes the deterministic registry name for a canonical pattern key
// ("<anchor>:<body>"): a fixed-width digest of the canonical form under the
// configured namespace (spec §4.3: "<NS>.Pattern.<16-byte-hex>").
//
// The digest is crypto/md5 over the canonical key bytes. Spec §4.3 describes
// this as "MD5-equivalent digest width" rather than mandating MD5
// specifically, and no bit-exact reference implementation of the original
// digest was available to match against (see DESIGN.md) — md5 satisfies the
// actual invariant under test: identical canonical forms collapse to
// identical names, with negligible collision risk for this input domain.
func Name(canonicalKey string) string {
	sum := md5.Sum([]byte(canonicalKey))
	return fmt.Sprintf("%s.Pattern.%s", schema.PatternNamespace, hex.EncodeToString(sum[:]))
}
