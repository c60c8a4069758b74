// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"database/sql/driver"
	"time"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/jackc/pgx/v5/stdlib"
)

type beginCtxKey struct{}

// Hooks satisfies sqlhooks.Hooks, logging every query plus its elapsed time.
type Hooks struct{}

func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, beginCtxKey{}, time.Now()), nil
}

func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginCtxKey{}).(time.Time); ok {
		log.Debugf("Took: %s", time.Since(begin))
	}
	return ctx, nil
}

// pgxDriver returns the driver.Driver sqlhooks.Wrap is applied to.
func pgxDriver() driver.Driver {
	return stdlib.GetDefaultDriver()
}
