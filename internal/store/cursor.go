// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Cursor wraps a Postgres server-side cursor (portal), opened inside its own
// transaction, as spec §4.8's "Load" step requires ("enumerate every
// scenario row via a server-side cursor (portal) to avoid nested-query
// deadlocks") and step 4's neighbour-walk twin cursors reuse the same shape.
type Cursor struct {
	tx   *sqlx.Tx
	name string
}

// OpenCursor declares name as a cursor over query/args and returns it open,
// owning a fresh transaction for its lifetime.
func OpenCursor(ctx context.Context, db *sqlx.DB, name, query string, args ...interface{}) (*Cursor, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin cursor tx: %w", err)
	}
	declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", name, query)
	if _, err := tx.ExecContext(ctx, declare, args...); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("store: declare cursor %s: %w", name, err)
	}
	return &Cursor{tx: tx, name: name}, nil
}

// FetchNext advances the cursor by one row, scanning it into dest (a
// pointer, passed to sqlx's StructScan). Returns false, nil at exhaustion.
func (c *Cursor) FetchNext(ctx context.Context, dest interface{}) (bool, error) {
	rows, err := c.tx.QueryxContext(ctx, fmt.Sprintf("FETCH NEXT FROM %s", c.name))
	if err != nil {
		return false, fmt.Errorf("store: fetch from cursor %s: %w", c.name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, rows.Err()
	}
	if err := rows.StructScan(dest); err != nil {
		return false, fmt.Errorf("store: scan cursor %s row: %w", c.name, err)
	}
	return true, nil
}

// Close closes the cursor and commits its holding transaction (a cursor
// only ever reads, so there is nothing to roll back).
func (c *Cursor) Close() error {
	if _, err := c.tx.Exec(fmt.Sprintf("CLOSE %s", c.name)); err != nil {
		c.tx.Rollback()
		return fmt.Errorf("store: close cursor %s: %w", c.name, err)
	}
	return c.tx.Commit()
}
