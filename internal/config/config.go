// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the single process configuration record shared by
// the Work Manager and Scenario Evaluator daemons (spec §9 "Config").
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// BrokerConfig carries the AMQP connection and queue naming.
type BrokerConfig struct {
	URL              string `json:"url"`
	ResultsQueue     string `json:"results-queue"`
	DirectorQueue    string `json:"director-queue"`
	HeartbeatSeconds int    `json:"heartbeat-seconds"`
}

// BackendConfig describes how to spawn and reach one per-type content backend (spec §4.4).
type BackendConfig struct {
	Path string   `json:"path"`
	Args []string `json:"args"`
	Port int      `json:"port"`
}

// ObjectStoreConfig selects the content-addressed store backend (spec §4.5).
type ObjectStoreConfig struct {
	Kind   string `json:"kind"` // "fs" or "s3"
	Path   string `json:"path,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Region string `json:"region,omitempty"`
}

// ProgramConfig is the single configuration record passed by reference at
// startup (spec §9). Both cmd/work-manager and cmd/scenario-evaluator load
// the same shape; a field only one of them needs is simply ignored by the other.
type ProgramConfig struct {
	Broker BrokerConfig `json:"broker"`

	// DB pool DSNs: a larger read-only pool feeds Search/ScenarioLocal/Global
	// reads, a smaller read-write pool feeds the Work Manager's persistence
	// and the Scenario Evaluator's results upsert (spec §5).
	DBReadOnlyDSN  string `json:"db-ro"`
	DBReadWriteDSN string `json:"db-rw"`

	ObjectStore ObjectStoreConfig `json:"object-store"`

	// Backends maps object_type -> backend process config.
	Backends map[string]BackendConfig `json:"backends"`

	MaxRecursionDepth  int `json:"max-recursion-depth"`
	MaxObjectSize      int64 `json:"max-object-size"`
	MaxChildren        int `json:"max-children"`
	MaxChildConcurrency int `json:"max-child-concurrency"`
	RetryLimit         int `json:"retry-limit"`
	RequestConcurrency int `json:"request-concurrency"`
	ResultConcurrency  int `json:"result-concurrency"`

	SearchStatementTimeout string `json:"search-statement-timeout"`

	AVScannerAddress     string   `json:"av-scanner-address"`
	TypeDetectorAddress  string   `json:"type-detector-address"`
	HashAlgorithms       []string `json:"hash-algorithms"`
	RedisAddress         string   `json:"redis-address"`
	GopsAddress          string   `json:"gops-address"`
	HealthAddress        string   `json:"health-address"`

	// Group/User are dropped into after the health/gops listeners are
	// bound, mirroring cmd/cc-backend's own privileged-port startup order
	// (pkg/runtimeEnv.DropPrivileges).
	Group string `json:"group"`
	User  string `json:"user"`

	// SharedTempDir is the directory backends write child temp files into
	// before the materialiser moves them into the content store (spec §4.5
	// "a temp-file path, produced by the backend in a shared directory").
	// The Work Manager periodically sweeps it of files a crashed
	// materialise run left behind.
	SharedTempDir string `json:"shared-temp-dir"`

	// ScenarioEvalRatePerSecond caps how many completed works per second
	// the Scenario Evaluator pulls off the director queue, smoothing load
	// spikes against the DB read pool a burst of finalisations would
	// otherwise create. Zero/negative means unlimited.
	ScenarioEvalRatePerSecond float64 `json:"scenario-eval-rate-per-second"`

	LogLevel string `json:"loglevel"`
}

// SearchStatementTimeoutDuration parses SearchStatementTimeout, defaulting
// to 30s on an empty or invalid value.
func (c *ProgramConfig) SearchStatementTimeoutDuration() time.Duration {
	if c.SearchStatementTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.SearchStatementTimeout)
	if err != nil {
		log.Warnf("config: invalid search-statement-timeout %q, using 30s", c.SearchStatementTimeout)
		return 30 * time.Second
	}
	return d
}

// Keys is the process-wide configuration, populated once by Init.
var Keys ProgramConfig = ProgramConfig{
	Broker: BrokerConfig{
		ResultsQueue:     "results",
		DirectorQueue:    "scenario-director",
		HeartbeatSeconds: 10,
	},
	ObjectStore: ObjectStoreConfig{
		Kind: "fs",
		Path: "./var/object-store",
	},
	MaxRecursionDepth:   15,
	MaxObjectSize:       1 << 30,
	MaxChildren:         4096,
	MaxChildConcurrency: 8,
	RetryLimit:          10,
	RequestConcurrency:  4,
	ResultConcurrency:   2,
	HashAlgorithms:      []string{"sha256"},
	LogLevel:            "info",
}

// Init reads flagConfigFile, validates it against the embedded JSON schema,
// and decodes it into Keys. A missing file is not an error (the defaults
// above still apply); a present-but-invalid file aborts startup.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Abortf("config: reading %s: %v", flagConfigFile, err)
		}
		return
	}

	if err := schema.Validate(schema.ProcessConfig, bytes.NewReader(raw)); err != nil {
		log.Abortf("config: validate %s: %v", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Abortf("config: decode %s: %v", flagConfigFile, err)
	}

	log.SetLogLevel(Keys.LogLevel)
}
