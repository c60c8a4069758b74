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

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

var (
	resultsRepoOnce     sync.Once
	resultsRepoInstance *ResultsRepository
)

// ResultsRepository records the per-evaluation action list the Scenario
// Evaluator produces for a work (spec §3 "results(work_id, t, actions)").
type ResultsRepository struct {
	rw *sqlx.DB
}

func GetResultsRepository() *ResultsRepository {
	resultsRepoOnce.Do(func() {
		resultsRepoInstance = &ResultsRepository{rw: GetPools().RW}
	})
	return resultsRepoInstance
}

// RecordActions inserts one results row for a completed scenario evaluation
// pass over work, per spec §4.8 step 7 ("record the matched actions").
func (r *ResultsRepository) RecordActions(ctx context.Context, workID uuid.UUID, actions []schema.WorkAction) error {
	raw, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("store: marshal actions: %w", err)
	}
	_, err = psql.Insert("results").
		Columns("work_id", "actions").
		Values(workID, raw).
		RunWith(r.rw).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("store: record actions for %s: %w", workID, err)
	}
	return nil
}
