// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command work-manager runs C7 (spec §4.7): it dequeues per-object jobs
// from the broker, drives one backend process per configured object type,
// materialises children, aggregates results, and publishes the completed
// work to the director queue. Wiring mirrors cmd/cc-backend/main.go's
// flag/config/listen/drop-privileges/signal-shutdown sequence.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/backend"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/broker"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/config"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/health"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/materialise"
	contentstore "github.com/ClusterCockpit/cc-artifactgraph/internal/materialise/store"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/metrics"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/store"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/workmanager"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/runtimeEnv"
)

func main() {
	var flagConfigFile string
	var flagGops, flagMigrateDB bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Program configuration file")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagMigrateDB, "migrate-db", false, "Apply pending database migrations and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("work-manager: loading .env: %v", err)
	}

	config.Init(flagConfigFile)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("work-manager: gops/agent.Listen: %v", err)
		}
	}

	if flagMigrateDB {
		store.MigrateDB(config.Keys.DBReadWriteDSN)
		return
	}

	store.Connect(config.Keys.DBReadOnlyDSN, config.Keys.DBReadWriteDSN)

	brokerClient := broker.Connect(config.Keys.Broker.URL)
	if err := brokerClient.DeclareQueue(config.Keys.Broker.ResultsQueue, true); err != nil {
		log.Fatalf("work-manager: declare results queue: %v", err)
	}
	if err := brokerClient.DeclareQueue(config.Keys.Broker.DirectorQueue, false); err != nil {
		log.Fatalf("work-manager: declare director queue: %v", err)
	}

	ctx := context.Background()
	content, err := contentstore.New(ctx, contentstore.Config{
		Kind:   config.Keys.ObjectStore.Kind,
		Path:   config.Keys.ObjectStore.Path,
		Bucket: config.Keys.ObjectStore.Bucket,
		Region: config.Keys.ObjectStore.Region,
	})
	if err != nil {
		log.Fatalf("work-manager: content store: %v", err)
	}

	typeDetector := &materialise.TCPTypeDetector{Address: config.Keys.TypeDetectorAddress}
	avScanner := &materialise.ClamdScanner{Address: config.Keys.AVScannerAddress, Content: content}
	materialiser := materialise.New(materialise.Config{
		HashAlgorithms:      config.Keys.HashAlgorithms,
		MaxObjectSize:       config.Keys.MaxObjectSize,
		MaxChildConcurrency: config.Keys.MaxChildConcurrency,
	}, content, typeDetector, avScanner)

	backends := make(map[string]*backend.Driver, len(config.Keys.Backends))
	healthChecks := []health.Check{
		{Name: "broker", Func: brokerClient.HealthCheck},
	}
	for objectType, bc := range config.Keys.Backends {
		drv := backend.New(backend.Config{
			Path:              bc.Path,
			Args:              bc.Args,
			Port:              bc.Port,
			MaxRecursionDepth: config.Keys.MaxRecursionDepth,
		})
		if err := drv.Start(); err != nil {
			log.Fatalf("work-manager: start backend %s: %v", objectType, err)
		}
		backends[objectType] = drv

		if err := brokerClient.DeclareQueue(broker.RequestQueueName(objectType), false); err != nil {
			log.Fatalf("work-manager: declare request queue for %s: %v", objectType, err)
		}

		objectType, drv := objectType, drv
		healthChecks = append(healthChecks, health.Check{
			Name: "backend-" + objectType,
			Func: drv.HealthCheck,
		})
	}

	metricsReg := metrics.New("work_manager")
	brokerClient.SetRedeliverHook(metricsReg.BrokerRedelivery)

	mgr := workmanager.New(workmanager.Config{
		ResultsQueue:       config.Keys.Broker.ResultsQueue,
		DirectorQueue:      config.Keys.Broker.DirectorQueue,
		RetryLimit:         config.Keys.RetryLimit,
		RequestConcurrency: config.Keys.RequestConcurrency,
		ResultConcurrency:  config.Keys.ResultConcurrency,
	}, workmanager.NewBackendMap(backends), materialiser, brokerClient, store.GetObjectRepository())
	mgr.SetMetrics(metricsReg)

	var tmpGC func(context.Context) error
	if config.Keys.SharedTempDir != "" {
		tmpGC = sweepSharedTempDir(config.Keys.SharedTempDir, 6*time.Hour)
	}
	periodic, err := workmanager.StartPeriodicTasks(backends, time.Minute, tmpGC, time.Hour)
	if err != nil {
		log.Fatalf("work-manager: start periodic tasks: %v", err)
	}

	hs := health.New(config.Keys.HealthAddress, metricsReg.Handler(), healthChecks...)
	listener, err := hs.Start()
	if err != nil {
		log.Fatalf("work-manager: bind health listener: %v", err)
	}
	go func() {
		if err := hs.Serve(listener); err != nil {
			log.Errorf("work-manager: health server: %v", err)
		}
	}()

	if err := runtimeEnv.DropPrivileges(config.Keys.Group, config.Keys.User); err != nil {
		log.Fatalf("work-manager: drop privileges: %v", err)
	}

	runtimeEnv.SystemdNotifiy(true, "status: work-manager running")

	runErr := mgr.Run(ctx)

	runtimeEnv.SystemdNotifiy(false, "status: work-manager shutting down")
	periodic.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		log.Warnf("work-manager: health server shutdown: %v", err)
	}
	for objectType, drv := range backends {
		if err := drv.Stop(); err != nil {
			log.Warnf("work-manager: stop backend %s: %v", objectType, err)
		}
	}

	if runErr != nil {
		log.Fatalf("work-manager: %v", runErr)
	}
}

// sweepSharedTempDir removes files under dir older than maxAge, cleaning up
// after materialise runs that crashed before moving a child's temp file
// into the content store (spec §4.5).
func sweepSharedTempDir(dir string, maxAge time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-maxAge)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(dir + "/" + e.Name()); err != nil {
					log.Warnf("work-manager: remove stale temp file %s: %v", e.Name(), err)
				}
			}
		}
		return nil
	}
}
