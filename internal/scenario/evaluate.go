// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scenario

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// neighborRow is one row of the before/after neighbour cursors: an other
// work's entry object, close in time to the anchor (spec §4.8 step 4).
type neighborRow struct {
	ID     uuid.UUID `db:"id"`
	WorkID uuid.UUID `db:"work_id"`
	T      time.Time `db:"t"`
}

const (
	beforeCursorQuery = `SELECT id, work_id, t FROM objects WHERE is_entry = true AND id != $1 AND t >= $2 AND t <= $3 ORDER BY t DESC`
	afterCursorQuery  = `SELECT id, work_id, t FROM objects WHERE is_entry = true AND id != $1 AND t > $2 AND t <= $3 ORDER BY t ASC`
	beforeCountQuery  = `SELECT count(*) FROM objects WHERE is_entry = true AND id != $1 AND t >= $2 AND t <= $3`
	afterCountQuery   = `SELECT count(*) FROM objects WHERE is_entry = true AND id != $1 AND t > $2 AND t <= $3`
)

// Evaluate runs every scenario in the live table against workID and records
// the matched actions, per spec §4.8 "Evaluate a work".
func (e *Evaluator) Evaluate(ctx context.Context, workID uuid.UUID) error {
	start := time.Now()
	table := e.snapshot()

	var anchor *schema.Object
	var anchorErr error
	var actions []schema.WorkAction

	for _, ent := range table {
		localMatched, err := e.localMatches(ctx, ent, workID)
		if err != nil {
			log.Warnf("scenario: %q local match for work %s failed: %v", ent.scenario.Name, workID, err)
			continue
		}
		if !localMatched {
			continue
		}

		if ent.scenario.Context == nil {
			actions = append(actions, recordAction(ent.scenario))
			if e.metrics != nil {
				e.metrics.ScenarioMatched(ent.scenario.Name)
			}
			continue
		}

		if anchor == nil {
			if anchorErr != nil {
				continue
			}
			anchor, anchorErr = e.store.GetEntryObject(ctx, workID)
			if anchorErr != nil {
				log.Warnf("scenario: work %s has no entry object, skipping context-bearing scenarios: %v", workID, anchorErr)
				continue
			}
		}

		matched, err := e.evaluateGlobal(ctx, ent, anchor)
		if err != nil {
			log.Warnf("scenario: %q global evaluation for work %s failed: %v", ent.scenario.Name, workID, err)
			continue
		}
		if matched {
			actions = append(actions, recordAction(ent.scenario))
			if e.metrics != nil {
				e.metrics.ScenarioMatched(ent.scenario.Name)
			}
		}
	}

	if e.metrics != nil {
		e.metrics.ScenarioEvaluated(time.Since(start))
	}
	return e.results.RecordActions(ctx, workID, actions)
}

func recordAction(s *schema.Scenario) schema.WorkAction {
	return schema.WorkAction{ScenarioName: s.Name, CreatedAt: s.CreatedAt, ActionTag: s.ActionTag}
}

// localMatches executes entry's compiled local rule scoped to workID (spec
// §4.8 step 1: "execute it with the work id bound").
func (e *Evaluator) localMatches(ctx context.Context, ent *entry, workID uuid.UUID) (bool, error) {
	scoped := &schema.CompiledRule{Query: ent.local.Query + ` AND "objects_0".work_id = $1`}
	rows, err := e.store.Search(ctx, scoped, e.cfg.SearchTimeout, workID)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// evaluateGlobal implements spec §4.8 steps 3-6 for one scenario against
// one anchor work.
func (e *Evaluator) evaluateGlobal(ctx context.Context, ent *entry, anchor *schema.Object) (bool, error) {
	compiled, err := ent.compileGlobal(e.patterns, ctx)
	if err != nil {
		return false, fmt.Errorf("compile global rule: %w", err)
	}
	window := compiled.GlobalQuerySettings.TimeWindow

	lo, hi := anchor.CreatedAt.Add(-window), anchor.CreatedAt.Add(window)

	availBefore, err := e.openCount(ctx, beforeCountQuery, anchor.ID, lo, anchor.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("count neighbours before: %w", err)
	}
	availAfter, err := e.openCount(ctx, afterCountQuery, anchor.ID, anchor.CreatedAt, hi)
	if err != nil {
		return false, fmt.Errorf("count neighbours after: %w", err)
	}
	availNeighbors := availBefore + availAfter
	if availNeighbors > math.MaxUint32 {
		availNeighbors = math.MaxUint32
	}

	budget := availNeighbors
	if mn := compiled.GlobalQuerySettings.MaxNeighbors; mn != nil && *mn < budget {
		budget = *mn
	}

	before, err := e.openCursor(ctx, "scenario_before", beforeCursorQuery, anchor.ID, lo, anchor.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("open before-cursor: %w", err)
	}
	defer before.Close()

	after, err := e.openCursor(ctx, "scenario_after", afterCursorQuery, anchor.ID, anchor.CreatedAt, hi)
	if err != nil {
		return false, fmt.Errorf("open after-cursor: %w", err)
	}
	defer after.Close()

	nmatches, err := e.walk(ctx, compiled, anchor, before, after, budget)
	if err != nil {
		return false, err
	}

	return compiled.GlobalQuerySettings.Matches.Satisfied(nmatches, availNeighbors), nil
}

// walk drives the two-cursor neighbour walk of spec §4.8 step 5: at each
// step the closer of the two buffered cursor heads (by |dt| from anchor,
// ties favouring the before-cursor) is consumed and tested against the
// global predicate, stopping once the match target is provably reached or
// the neighbour budget is exhausted.
func (e *Evaluator) walk(ctx context.Context, compiled *schema.CompiledRule, anchor *schema.Object, before, after neighborCursor, budget int) (int, error) {
	target := compiled.GlobalQuerySettings.Matches.Target()

	beforeHead, err := nextRow(ctx, before)
	if err != nil {
		return 0, err
	}
	afterHead, err := nextRow(ctx, after)
	if err != nil {
		return 0, err
	}

	nmatches := 0
	for used := 0; used < budget; used++ {
		if beforeHead == nil && afterHead == nil {
			break
		}

		var pick *neighborRow
		fromBefore := false
		switch {
		case beforeHead != nil && afterHead != nil:
			db := anchor.CreatedAt.Sub(beforeHead.T)
			da := afterHead.T.Sub(anchor.CreatedAt)
			if db <= da {
				pick, fromBefore = beforeHead, true
			} else {
				pick = afterHead
			}
		case beforeHead != nil:
			pick, fromBefore = beforeHead, true
		default:
			pick = afterHead
		}

		matched, err := e.store.Search(ctx, compiled, e.cfg.SearchTimeout, pick.WorkID, pick.ID)
		if err != nil {
			return 0, fmt.Errorf("global predicate for neighbour %s: %w", pick.ID, err)
		}
		if len(matched) > 0 {
			nmatches++
		}

		if fromBefore {
			beforeHead, err = nextRow(ctx, before)
		} else {
			afterHead, err = nextRow(ctx, after)
		}
		if err != nil {
			return 0, err
		}

		if target >= 0 && nmatches > target {
			break
		}
	}

	return nmatches, nil
}

func nextRow(ctx context.Context, c neighborCursor) (*neighborRow, error) {
	var row neighborRow
	ok, err := c.FetchNext(ctx, &row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &row, nil
}
