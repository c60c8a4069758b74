// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"sync"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// PendingResult aggregates one in-flight object's own (already known)
// result with its children's results as they arrive out of order over the
// results queue (spec §4.6 "Per-work aggregator"). A completed
// PendingResult assembles into the schema.Object the work manager persists
// and republishes (upward to the parent's correlation id, or to the
// director queue at the root).
type PendingResult struct {
	mu sync.Mutex

	object    *schema.Object
	ownResult schema.ObjectResult
	order     []string
	slots     map[string]*schema.Object
	filled    int
}

// NewPendingResult registers obj as awaiting childCorrelationIDs, one slot
// per child job dispatched for it.
func NewPendingResult(obj *schema.Object, own schema.ObjectResult, childCorrelationIDs []string) *PendingResult {
	slots := make(map[string]*schema.Object, len(childCorrelationIDs))
	for _, id := range childCorrelationIDs {
		slots[id] = nil
	}
	return &PendingResult{
		object:    obj,
		ownResult: own,
		order:     append([]string{}, childCorrelationIDs...),
		slots:     slots,
	}
}

// Fill records child's result under correlationID. Returns true once every
// registered slot has been filled, at which point Assemble can be called.
func (p *PendingResult) Fill(correlationID string, child *schema.Object) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.slots[correlationID]; !ok {
		return p.filled == len(p.slots)
	}
	if p.slots[correlationID] == nil {
		p.filled++
	}
	p.slots[correlationID] = child
	return p.filled == len(p.slots)
}

// Complete reports whether every child slot has already been filled.
func (p *PendingResult) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled == len(p.slots)
}

// Assemble builds the final object once every slot is filled: the parent's
// own symbols/metadata merged with its now-known children, in dispatch
// order so the tree is reproducible regardless of arrival order.
func (p *PendingResult) Assemble() *schema.Object {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ok, isOk := p.ownResult.Ok(); isOk {
		children := make([]*schema.Object, 0, len(p.order))
		for _, id := range p.order {
			if c := p.slots[id]; c != nil {
				children = append(children, c)
			}
		}
		p.object.Result = schema.NewOkResult(ok.Symbols, ok.ObjectMetadata, children)
	} else {
		p.object.Result = p.ownResult
	}
	return p.object
}
