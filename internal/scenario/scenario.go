// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scenario is the Scenario Evaluator (C8, spec §4.8): it loads
// scenario definitions into a live, atomically-swapped table of compiled
// rules, and evaluates a completed work against every entry in that table,
// recording matched actions into the results store.
package scenario

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/compiler"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/parser"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/pattern"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// scenarioLister is the Load-time dependency on the scenarios table,
// satisfied by *store.ScenarioRepository without this package importing
// store directly — the same consumer-defined-interface seam
// internal/workmanager uses for its own backend/broker/store ports.
type scenarioLister interface {
	LoadAll(ctx context.Context, visit func(*schema.Scenario) bool) error
}

// objectSearcher is the read surface Evaluate drives both the local and the
// global predicate through, satisfied by *store.ObjectRepository.Search.
type objectSearcher interface {
	Search(ctx context.Context, compiled *schema.CompiledRule, timeout time.Duration, args ...interface{}) ([]*schema.Object, error)
	GetEntryObject(ctx context.Context, workID uuid.UUID) (*schema.Object, error)
}

// neighborCursor is the per-cursor read surface the neighbour walk needs;
// *store.Cursor satisfies it directly.
type neighborCursor interface {
	FetchNext(ctx context.Context, dest interface{}) (bool, error)
	Close() error
}

// cursorOpener opens one server-side cursor, mirroring store.OpenCursor's
// signature without this package depending on *sqlx.DB.
type cursorOpener func(ctx context.Context, name, query string, args ...interface{}) (neighborCursor, error)

// countOpener runs a single scalar count query, mirroring the twin
// count-only queries spec §4.8 step 4 names.
type countOpener func(ctx context.Context, query string, args ...interface{}) (int, error)

// actionRecorder is the Evaluate-time dependency on the results table.
type actionRecorder interface {
	RecordActions(ctx context.Context, workID uuid.UUID, actions []schema.WorkAction) error
}

// MetricsSink is the evaluator's optional Prometheus feed (internal/metrics),
// mirroring internal/workmanager.MetricsSink's consumer-defined shape.
type MetricsSink interface {
	ScenarioEvaluated(d time.Duration)
	ScenarioMatched(scenarioName string)
}

// entry is one scenario compiled for the live table: its local rule always
// compiled at Load time, its global rule (when the scenario has a context)
// compiled lazily on first use and cached, per the "compile the global rule
// (cacheable)" wording of spec §4.8 step 3.
type entry struct {
	scenario *schema.Scenario
	local    *schema.CompiledRule

	globalOnce     sync.Once
	globalCompiled *schema.CompiledRule
	globalErr      error
}

func (e *entry) compileGlobal(patterns pattern.Store, ctx context.Context) (*schema.CompiledRule, error) {
	e.globalOnce.Do(func() {
		sc := e.scenario.Context
		window, err := time.ParseDuration(sc.TimeWindow)
		if err != nil {
			e.globalErr = err
			return
		}
		rule, err := parser.Parse(sc.GlobalQuery)
		if err != nil {
			e.globalErr = err
			return
		}
		settings := &schema.GlobalQuerySettings{
			TimeWindow:   window,
			Matches:      sc.NeighborMatches(),
			MaxNeighbors: sc.MaxNeighbors,
		}
		compiled, registry, err := compiler.Compile(rule, schema.QueryScenarioGlobal, settings)
		if err != nil {
			e.globalErr = err
			return
		}
		registerPatterns(ctx, patterns, registry)
		e.globalCompiled = compiled
	})
	return e.globalCompiled, e.globalErr
}

// Config carries the Evaluator's tunables (spec §4.8, §5 "per-search
// statement_timeout").
type Config struct {
	SearchTimeout time.Duration
}

// Evaluator holds the live scenario table and the store/pattern dependencies
// Load and Evaluate drive it through.
type Evaluator struct {
	cfg      Config
	store    objectSearcher
	results  actionRecorder
	patterns pattern.Store
	loader   scenarioLister

	openCursor cursorOpener
	openCount  countOpener
	metrics    MetricsSink

	mu    sync.RWMutex
	table []*entry
}

func New(cfg Config, loader scenarioLister, store objectSearcher, results actionRecorder, patterns pattern.Store, openCursor cursorOpener, openCount countOpener) *Evaluator {
	return &Evaluator{
		cfg:        cfg,
		loader:     loader,
		store:      store,
		results:    results,
		patterns:   patterns,
		openCursor: openCursor,
		openCount:  openCount,
	}
}

// SetMetrics attaches a metrics sink after construction; nil disables
// metrics recording, keeping cmd/scenario-evaluator the only caller that
// needs to know about internal/metrics.
func (e *Evaluator) SetMetrics(sink MetricsSink) {
	e.metrics = sink
}

// snapshot returns the live table under a read lock, for a single Evaluate
// pass to iterate without blocking a concurrent Load (spec §5: "readers see
// either the old or the new table in full").
func (e *Evaluator) snapshot() []*entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

func (e *Evaluator) install(table []*entry) {
	e.mu.Lock()
	e.table = table
	e.mu.Unlock()
}
