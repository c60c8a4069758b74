// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store is the Postgres-backed repository layer for objects, rels,
// scenarios and results (spec §4.8's abstract store schema). It exposes two
// independent pools, a read-only one feeding Search/ScenarioLocal/Global
// reads and a smaller read-write one feeding persistence and the results
// upsert (spec §5) — both enforced against the same schema version at
// startup, since either pool talking to a stale schema is equally fatal.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/qustavo/sqlhooks/v2"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// psql is the squirrel statement builder every repository in this package
// uses, configured for Postgres's "$1"-style placeholders instead of
// squirrel's sqlite/mysql-compatible default "?".
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	connOnce     sync.Once
	connInstance *Pools
)

// Pools bundles the two DB handles a component needs; RO and RW may point at
// the same physical database, but are always distinct *sqlx.DB instances so
// pool limits and the "pgxWithHooks" registration stay independent.
type Pools struct {
	RO *sqlx.DB
	RW *sqlx.DB
}

// Connect opens the RO/RW pools, tunes them, and checks both against
// supportedVersion. Safe to call more than once; only the first call does
// anything.
func Connect(roDSN, rwDSN string) *Pools {
	connOnce.Do(func() {
		ro := openPool(roDSN, 20)
		rw := openPool(rwDSN, 8)
		connInstance = &Pools{RO: ro, RW: rw}
		checkDBVersion(ro.DB)
		checkDBVersion(rw.DB)
	})
	return connInstance
}

func openPool(dsn string, maxOpen int) *sqlx.DB {
	db, err := sqlx.Open("pgxWithHooks", dsn)
	if err != nil {
		log.Fatalf("store: sqlx.Open: %v", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db
}

func init() {
	sql.Register("pgxWithHooks", sqlhooks.Wrap(pgxDriver(), &Hooks{}))
}

// GetPools returns the singleton opened by Connect, aborting if Connect was
// never called — mirrors the teacher's GetConnection fail-fast contract.
func GetPools() *Pools {
	if connInstance == nil {
		log.Fatalf("store: Connect was never called")
	}
	return connInstance
}

// withStatementTimeout runs fn inside a transaction with the given
// statement_timeout applied via SET LOCAL, so it only affects this one
// transaction and is automatically undone on commit/rollback (spec §4.8
// "search statement timeout").
func withStatementTimeout(db *sqlx.DB, timeout time.Duration, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return fmt.Errorf("store: set statement_timeout: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
