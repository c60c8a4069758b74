// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package workmanager

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/backend"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
)

// PeriodicTasks runs the Work Manager's background jobs on a gocron
// scheduler, the same register-then-Start idiom taskManager.go used for
// the teacher's job-cache sync/retention/footprint workers, narrowed here
// to the two things a backend-supervising process needs outside the
// request/result consume loop: noticing a wedged (but not exited) backend,
// and sweeping the content store's own temp directory of files a crashed
// materialise run never cleaned up.
type PeriodicTasks struct {
	s gocron.Scheduler
}

// StartPeriodicTasks registers and starts every periodic job; call Shutdown
// to stop them.
func StartPeriodicTasks(backends map[string]*backend.Driver, healthCheckInterval time.Duration, tmpGC func(context.Context) error, gcInterval time.Duration) (*PeriodicTasks, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	pt := &PeriodicTasks{s: s}

	if healthCheckInterval > 0 {
		for objectType, drv := range backends {
			objectType, drv := objectType, drv
			if _, err := s.NewJob(gocron.DurationJob(healthCheckInterval), gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := drv.HealthCheck(ctx); err != nil {
					log.Warnf("workmanager: periodic health check for backend %s failed: %v", objectType, err)
				}
			})); err != nil {
				return nil, err
			}
		}
	}

	if tmpGC != nil && gcInterval > 0 {
		if _, err := s.NewJob(gocron.DurationJob(gcInterval), gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := tmpGC(ctx); err != nil {
				log.Warnf("workmanager: periodic temp-file GC failed: %v", err)
			}
		})); err != nil {
			return nil, err
		}
	}

	s.Start()
	return pt, nil
}

// Shutdown stops every registered job.
func (pt *PeriodicTasks) Shutdown() error {
	return pt.s.Shutdown()
}
