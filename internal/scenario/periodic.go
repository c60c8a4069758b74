// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scenario

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
)

// StartPeriodicReload registers a gocron job that reruns Load on interval,
// so a scenario row inserted or edited after startup becomes live without a
// process restart (spec §3's "reloads swap the shared table" implies
// reloads happen on an ongoing basis, not just once at boot). Grounded on
// the same gocron register-then-Start idiom internal/workmanager's own
// periodic tasks use.
func (e *Evaluator) StartPeriodicReload(interval time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if _, err := s.NewJob(gocron.DurationJob(interval), gocron.NewTask(func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := e.Load(ctx); err != nil {
			log.Warnf("scenario: periodic reload failed: %v", err)
		}
	})); err != nil {
		return nil, err
	}

	s.Start()
	return s, nil
}
