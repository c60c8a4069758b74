// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command scenario-evaluator runs C8 (spec §4.8): it loads the live
// scenario table, consumes director-queue announcements of completed
// works, and evaluates each against every scenario, recording matched
// actions. Wiring mirrors cmd/work-manager/main.go's own
// flag/config/listen/drop-privileges/signal-shutdown sequence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/broker"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/config"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/health"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/metrics"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/pattern"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/scenario"
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
		log.Warnf("scenario-evaluator: loading .env: %v", err)
	}

	config.Init(flagConfigFile)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("scenario-evaluator: gops/agent.Listen: %v", err)
		}
	}

	if flagMigrateDB {
		store.MigrateDB(config.Keys.DBReadWriteDSN)
		return
	}

	pools := store.Connect(config.Keys.DBReadOnlyDSN, config.Keys.DBReadWriteDSN)

	brokerClient := broker.Connect(config.Keys.Broker.URL)
	if err := brokerClient.DeclareQueue(config.Keys.Broker.DirectorQueue, false); err != nil {
		log.Fatalf("scenario-evaluator: declare director queue: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: config.Keys.RedisAddress})
	patterns := pattern.NewRedisStore(redisClient, "artifactgraph:patterns")

	metricsReg := metrics.New("scenario_evaluator")
	brokerClient.SetRedeliverHook(metricsReg.BrokerRedelivery)

	eval := scenario.New(
		scenario.Config{SearchTimeout: config.Keys.SearchStatementTimeoutDuration()},
		store.GetScenarioRepository(),
		store.GetObjectRepository(),
		store.GetResultsRepository(),
		patterns,
		scenario.NewCursorOpener(pools.RO),
		scenario.NewCountOpener(pools.RO),
	)
	eval.SetMetrics(metricsReg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eval.Load(ctx); err != nil {
		log.Fatalf("scenario-evaluator: initial load: %v", err)
	}

	reloadInterval := 5 * time.Minute
	reloadScheduler, err := eval.StartPeriodicReload(reloadInterval)
	if err != nil {
		log.Fatalf("scenario-evaluator: start periodic reload: %v", err)
	}

	var limiter *rate.Limiter
	if config.Keys.ScenarioEvalRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.Keys.ScenarioEvalRatePerSecond), 1)
	}

	handler := func(ctx context.Context, d *broker.Delivery) error {
		if d.MessageType != broker.MessageTypeScenarioTrigger {
			return nil
		}
		var msg workmanager.DirectorMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			log.Warnf("scenario-evaluator: decode director message: %v", err)
			return nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return eval.Evaluate(ctx, msg.WorkID)
	}

	// retryLimit=0: a director-queue announcement re-evaluates the same
	// work on redelivery, it never needs to be force-completed the way a
	// Work Manager job request does.
	if err := brokerClient.Consume(ctx, config.Keys.Broker.DirectorQueue, 0, handler); err != nil {
		log.Fatalf("scenario-evaluator: consume director queue: %v", err)
	}

	hs := health.New(config.Keys.HealthAddress, metricsReg.Handler(),
		health.Check{Name: "broker", Func: brokerClient.HealthCheck},
	)
	listener, err := hs.Start()
	if err != nil {
		log.Fatalf("scenario-evaluator: bind health listener: %v", err)
	}
	go func() {
		if err := hs.Serve(listener); err != nil {
			log.Errorf("scenario-evaluator: health server: %v", err)
		}
	}()

	if err := runtimeEnv.DropPrivileges(config.Keys.Group, config.Keys.User); err != nil {
		log.Fatalf("scenario-evaluator: drop privileges: %v", err)
	}

	runtimeEnv.SystemdNotifiy(true, "status: scenario-evaluator running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	log.Infof("scenario-evaluator: received %s, shutting down", sig)

	runtimeEnv.SystemdNotifiy(false, "status: scenario-evaluator shutting down")
	cancel()
	reloadScheduler.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		log.Warnf("scenario-evaluator: health server shutdown: %v", err)
	}
}
