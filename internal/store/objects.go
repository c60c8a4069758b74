// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

var (
	objectRepoOnce     sync.Once
	objectRepoInstance *ObjectRepository
)

// ObjectRepository is the objects/rels CRUD surface, singleton per the
// teacher's JobRepository shape (one stmtCache per pool).
type ObjectRepository struct {
	ro, rw       *sqlx.DB
	roStmtCache  *sq.StmtCache
	rwStmtCache  *sq.StmtCache
}

func GetObjectRepository() *ObjectRepository {
	objectRepoOnce.Do(func() {
		p := GetPools()
		objectRepoInstance = &ObjectRepository{
			ro:          p.RO,
			rw:          p.RW,
			roStmtCache: sq.NewStmtCache(p.RO),
			rwStmtCache: sq.NewStmtCache(p.RW),
		}
	})
	return objectRepoInstance
}

var objectColumns = []string{
	"id", "work_id", "org", "object_id", "object_type", "object_subtype",
	"recursion_level", "size", "hashes", "entropy", "t", "is_entry", "result",
}

// InsertObject persists one materialised object (spec §4.5 "Persist").
func (r *ObjectRepository) InsertObject(ctx context.Context, obj *schema.Object) error {
	_, err := psql.Insert("objects").
		Columns(objectColumns...).
		Values(obj.ID, obj.WorkID, obj.Org, obj.ObjectID, obj.ObjectType, obj.ObjectSubtype,
			obj.RecursionLevel, obj.Size, obj.Hashes, obj.Entropy, obj.CreatedAt, obj.IsEntry, obj.Result).
		RunWith(r.rwStmtCache).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("store: insert object %s: %w", obj.ID, err)
	}
	return nil
}

// InsertRel records a parent-child edge with its relation metadata (spec
// §3 "rels").
func (r *ObjectRepository) InsertRel(ctx context.Context, parent, child uuid.UUID, props map[string]interface{}) error {
	_, err := psql.Insert("rels").
		Columns("parent", "child", "props").
		Values(parent, child, sqPropsArg(props)).
		RunWith(r.rwStmtCache).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("store: insert rel %s->%s: %w", parent, child, err)
	}
	return nil
}

func sqPropsArg(props map[string]interface{}) interface{} {
	if props == nil {
		return "{}"
	}
	return props
}

func scanObject(row interface{ StructScan(interface{}) error }) (*schema.Object, error) {
	obj := &schema.Object{}
	if err := row.StructScan(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// GetObjectByID fetches a single object by its row identity.
func (r *ObjectRepository) GetObjectByID(ctx context.Context, id uuid.UUID) (*schema.Object, error) {
	query, args, err := psql.Select(objectColumns...).From("objects").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build get-object query: %w", err)
	}

	rows, err := r.ro.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get object %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("store: object %s not found", id)
	}
	return scanObject(rows)
}

// GetEntryObject fetches the single is_entry row for work (spec §3: "the
// entry object... anchors" a work's own creation time for the Scenario
// Evaluator's neighbour walk, spec §4.8 step 4).
func (r *ObjectRepository) GetEntryObject(ctx context.Context, workID uuid.UUID) (*schema.Object, error) {
	query, args, err := psql.Select(objectColumns...).From("objects").
		Where(sq.Eq{"work_id": workID, "is_entry": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build get-entry-object query: %w", err)
	}

	rows, err := r.ro.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get entry object for work %s: %w", workID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("store: work %s has no entry object", workID)
	}
	return scanObject(rows)
}

// Search runs a compiled Search/ScenarioLocal/ScenarioGlobal rule (spec
// §4.2) against the read-only pool under a bounded statement_timeout (spec
// §4.8), returning every matching object.
func (r *ObjectRepository) Search(ctx context.Context, compiled *schema.CompiledRule, timeout time.Duration, args ...interface{}) ([]*schema.Object, error) {
	var results []*schema.Object

	err := withStatementTimeout(r.ro, timeout, func(tx *sqlx.Tx) error {
		qualified := make([]string, len(objectColumns))
		for i, c := range objectColumns {
			qualified[i] = `"objects_0".` + c
		}
		query := fmt.Sprintf(`SELECT %s `, joinCols(qualified)) + compiled.Query
		if compiled.WithClause != nil {
			query = *compiled.WithClause + " " + query
		}

		log.Debugf("store: search query %s %v", query, args)
		rows, err := tx.QueryxContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("store: search: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			obj, err := scanObject(rows)
			if err != nil {
				return fmt.Errorf("store: search scan: %w", err)
			}
			results = append(results, obj)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func joinCols(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}
