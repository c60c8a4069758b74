// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scenario

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/store"
)

// NewCursorOpener adapts store.OpenCursor to this package's cursorOpener
// seam, opening cursors against db (the Scenario Evaluator always reads
// through the read-only pool, spec §5).
func NewCursorOpener(db *sqlx.DB) cursorOpener {
	return func(ctx context.Context, name, query string, args ...interface{}) (neighborCursor, error) {
		return store.OpenCursor(ctx, db, name, query, args...)
	}
}

// NewCountOpener adapts a plain scalar COUNT(*) query to this package's
// countOpener seam.
func NewCountOpener(db *sqlx.DB) countOpener {
	return func(ctx context.Context, query string, args ...interface{}) (int, error) {
		var n int
		if err := db.GetContext(ctx, &n, query, args...); err != nil {
			return 0, fmt.Errorf("scenario: count query: %w", err)
		}
		return n, nil
	}
}
