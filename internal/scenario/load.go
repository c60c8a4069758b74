// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scenario

import (
	"context"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/compiler"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/parser"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/pattern"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// Load enumerates every scenario row, compiles what compiles, and installs
// the result as the new live table in one atomic swap (spec §4.8 "Load").
// A scenario that fails any step along the way is logged and skipped; it
// never aborts the reload of the scenarios that do compile.
func (e *Evaluator) Load(ctx context.Context) error {
	var table []*entry

	err := e.loader.LoadAll(ctx, func(s *schema.Scenario) bool {
		if !versionCompatible(BuildVersion, s.VersionMin, s.VersionMax) {
			log.Infof("scenario: %q declares range [%s,%s], incompatible with build %s, skipping",
				s.Name, s.VersionMin, s.VersionMax, BuildVersion)
			return true
		}

		rule, err := parser.Parse(s.LocalQuery)
		if err != nil {
			log.Warnf("scenario: %q local_query failed to parse, skipping: %v", s.Name, err)
			return true
		}

		compiled, registry, err := compiler.Compile(rule, schema.QueryScenarioLocal, nil)
		if err != nil {
			log.Warnf("scenario: %q local_query failed to compile, skipping: %v", s.Name, err)
			return true
		}
		registerPatterns(ctx, e.patterns, registry)

		table = append(table, &entry{scenario: s, local: compiled})
		return true
	})
	if err != nil {
		return err
	}

	e.install(table)
	log.Infof("scenario: loaded %d scenario(s)", len(table))
	return nil
}

// registerPatterns persists every pattern a compile discovered so the
// external matcher backend can pick up newly-registered signatures (spec
// §4.3 "stored externally"). A nil Store (no Redis configured) is a no-op —
// pattern-matching rules simply aren't externally advertised.
func registerPatterns(ctx context.Context, store pattern.Store, registry *pattern.Registry) {
	if store == nil || registry == nil {
		return
	}
	for _, p := range registry.Dump() {
		if err := store.Put(ctx, p); err != nil {
			log.Warnf("scenario: registering pattern %s failed: %v", p.Name, err)
		}
	}
}
