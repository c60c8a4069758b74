// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

func TestCompareVersions(t *testing.T) {
	require.Equal(t, 0, compareVersions("1.2", "1.2.0"))
	require.Equal(t, -1, compareVersions("1.1.9", "1.2.0"))
	require.Equal(t, 1, compareVersions("2.0.0", "1.9.9"))
}

func TestVersionCompatible(t *testing.T) {
	require.True(t, versionCompatible("1.0.0", "", ""))
	require.True(t, versionCompatible("1.0.0", "0.9.0", "1.1.0"))
	require.False(t, versionCompatible("1.0.0", "1.1.0", ""))
	require.False(t, versionCompatible("1.0.0", "", "0.9.0"))
}

// fakeLoader replays a fixed list of scenarios into LoadAll's visit callback.
type fakeLoader struct {
	scenarios []*schema.Scenario
}

func (f *fakeLoader) LoadAll(ctx context.Context, visit func(*schema.Scenario) bool) error {
	for _, s := range f.scenarios {
		if !visit(s) {
			return nil
		}
	}
	return nil
}

// fakeStore answers Search with a caller-supplied function, and
// GetEntryObject with a fixed object, matching the teacher's preference for
// hand-written fakes over a mocking framework.
type fakeStore struct {
	searchFn func(compiled *schema.CompiledRule, args ...interface{}) ([]*schema.Object, error)
	entry    *schema.Object
	entryErr error
}

func (f *fakeStore) Search(ctx context.Context, compiled *schema.CompiledRule, timeout time.Duration, args ...interface{}) ([]*schema.Object, error) {
	return f.searchFn(compiled, args...)
}

func (f *fakeStore) GetEntryObject(ctx context.Context, workID uuid.UUID) (*schema.Object, error) {
	return f.entry, f.entryErr
}

type fakeResults struct {
	workID  uuid.UUID
	actions []schema.WorkAction
}

func (f *fakeResults) RecordActions(ctx context.Context, workID uuid.UUID, actions []schema.WorkAction) error {
	f.workID = workID
	f.actions = actions
	return nil
}

// fakeCursor replays a fixed row list, one per FetchNext call.
type fakeCursor struct {
	rows   []neighborRow
	i      int
	closed bool
}

func (c *fakeCursor) FetchNext(ctx context.Context, dest interface{}) (bool, error) {
	if c.i >= len(c.rows) {
		return false, nil
	}
	*dest.(*neighborRow) = c.rows[c.i]
	c.i++
	return true, nil
}

func (c *fakeCursor) Close() error { c.closed = true; return nil }

func noMatchScenario(name string) *schema.Scenario {
	return &schema.Scenario{Name: name, ActionTag: "tag-" + name, LocalQuery: `size>0`}
}

func TestLoadSkipsIncompatibleVersionAndBadQuery(t *testing.T) {
	good := noMatchScenario("good")
	incompatible := noMatchScenario("incompatible")
	incompatible.VersionMin = "99.0.0"
	badQuery := noMatchScenario("bad-query")
	badQuery.LocalQuery = `this is not valid @@@`

	e := New(Config{SearchTimeout: time.Second}, &fakeLoader{scenarios: []*schema.Scenario{good, incompatible, badQuery}}, nil, nil, nil, nil, nil)

	require.NoError(t, e.Load(context.Background()))
	require.Len(t, e.snapshot(), 1)
	require.Equal(t, "good", e.snapshot()[0].scenario.Name)
}

func TestEvaluateNoContextRecordsAction(t *testing.T) {
	s := noMatchScenario("no-context")
	fs := &fakeStore{searchFn: func(compiled *schema.CompiledRule, args ...interface{}) ([]*schema.Object, error) {
		return []*schema.Object{{}}, nil
	}}
	fr := &fakeResults{}

	e := New(Config{SearchTimeout: time.Second}, &fakeLoader{scenarios: []*schema.Scenario{s}}, fs, fr, nil, nil, nil)
	require.NoError(t, e.Load(context.Background()))

	workID := uuid.New()
	require.NoError(t, e.Evaluate(context.Background(), workID))

	require.Equal(t, workID, fr.workID)
	require.Len(t, fr.actions, 1)
	require.Equal(t, "tag-no-context", fr.actions[0].ActionTag)
}

func TestEvaluateLocalNoMatchSkipsScenario(t *testing.T) {
	s := noMatchScenario("skip-me")
	fs := &fakeStore{searchFn: func(compiled *schema.CompiledRule, args ...interface{}) ([]*schema.Object, error) {
		return nil, nil
	}}
	fr := &fakeResults{}

	e := New(Config{SearchTimeout: time.Second}, &fakeLoader{scenarios: []*schema.Scenario{s}}, fs, fr, nil, nil, nil)
	require.NoError(t, e.Load(context.Background()))
	require.NoError(t, e.Evaluate(context.Background(), uuid.New()))

	require.Empty(t, fr.actions)
}

func TestEvaluateContextWalksNeighborsAndRecordsOnMatch(t *testing.T) {
	s := noMatchScenario("with-context")
	s.Context = &schema.ScenarioContext{
		GlobalQuery: `size>0`,
		MinMatches:  1, // NeighborMatches: MatchMoreThan, Req=0 -> nmatches>0
		TimeWindow:  "1h",
	}

	anchorID := uuid.New()
	anchorTime := time.Now()
	n1 := neighborRow{ID: uuid.New(), WorkID: uuid.New(), T: anchorTime.Add(-time.Minute)}
	n2 := neighborRow{ID: uuid.New(), WorkID: uuid.New(), T: anchorTime.Add(time.Minute)}

	searchCalls := 0
	fs := &fakeStore{
		entry: &schema.Object{ID: anchorID, CreatedAt: anchorTime},
		searchFn: func(compiled *schema.CompiledRule, args ...interface{}) ([]*schema.Object, error) {
			searchCalls++
			if compiled.WithClause == nil {
				// local-match probe: always matches so we reach the global walk.
				return []*schema.Object{{}}, nil
			}
			// Global predicate: the first neighbour inspected (n1; both
			// neighbours are equally far from the anchor and the tie goes to
			// the before-cursor) satisfies it.
			neighborID := args[1].(uuid.UUID)
			if neighborID == n1.ID {
				return []*schema.Object{{}}, nil
			}
			return nil, nil
		},
	}
	fr := &fakeResults{}

	before := &fakeCursor{rows: []neighborRow{n1}}
	after := &fakeCursor{rows: []neighborRow{n2}}
	opens := map[string]neighborCursor{"scenario_before": before, "scenario_after": after}
	openCursor := func(ctx context.Context, name, query string, args ...interface{}) (neighborCursor, error) {
		return opens[name], nil
	}
	openCount := func(ctx context.Context, query string, args ...interface{}) (int, error) {
		return 1, nil
	}

	e := New(Config{SearchTimeout: time.Second}, &fakeLoader{scenarios: []*schema.Scenario{s}}, fs, fr, nil, openCursor, openCount)
	require.NoError(t, e.Load(context.Background()))
	require.NoError(t, e.Evaluate(context.Background(), uuid.New()))

	require.Len(t, fr.actions, 1)
	require.True(t, before.closed)
	require.True(t, after.closed)
}
