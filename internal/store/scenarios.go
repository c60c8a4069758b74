// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

var (
	scenarioRepoOnce     sync.Once
	scenarioRepoInstance *ScenarioRepository
)

// ScenarioRepository is the scenarios CRUD surface. The `def` column carries
// the scenario's full JSON body (spec §3); `name`/`t` are also promoted to
// columns since name must be unique and t is queried for the reload cursor.
type ScenarioRepository struct {
	ro, rw *sqlx.DB
}

func GetScenarioRepository() *ScenarioRepository {
	scenarioRepoOnce.Do(func() {
		p := GetPools()
		scenarioRepoInstance = &ScenarioRepository{ro: p.RO, rw: p.RW}
	})
	return scenarioRepoInstance
}

type scenarioRow struct {
	ID   int64           `db:"id"`
	Name string          `db:"name"`
	Def  json.RawMessage `db:"def"`
	T    time.Time       `db:"t"`
}

// Create inserts s, populating s.ID and s.CreatedAt from the row Postgres assigns.
func (r *ScenarioRepository) Create(ctx context.Context, s *schema.Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}
	def, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal scenario def: %w", err)
	}

	query, args, err := psql.Insert("scenarios").
		Columns("name", "def").
		Values(s.Name, def).
		Suffix("RETURNING id, t").
		ToSql()
	if err != nil {
		return fmt.Errorf("store: build scenario insert: %w", err)
	}
	return r.rw.QueryRowContext(ctx, query, args...).Scan(&s.ID, &s.CreatedAt)
}

// LoadAll enumerates every scenario row via a server-side cursor (spec
// §4.8's "Load" step), invoking visit for each successfully-decoded row.
// A row whose def doesn't parse is skipped with a warning rather than
// aborting the whole reload, per spec §4.8.
func (r *ScenarioRepository) LoadAll(ctx context.Context, visit func(*schema.Scenario) bool) error {
	cur, err := OpenCursor(ctx, r.ro, "scenario_load", "SELECT id, name, def, t FROM scenarios ORDER BY id")
	if err != nil {
		return err
	}
	defer cur.Close()

	for {
		var row scenarioRow
		ok, err := cur.FetchNext(ctx, &row)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		var s schema.Scenario
		if err := json.Unmarshal(row.Def, &s); err != nil {
			log.Warnf("store: scenario %q has invalid def, skipping: %v", row.Name, err)
			continue
		}
		s.ID = row.ID
		s.Name = row.Name
		s.CreatedAt = row.T

		if !visit(&s) {
			return nil
		}
	}
}
