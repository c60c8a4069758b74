// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"database/sql"
	"embed"
	"os"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// supportedVersion is the store schema's `version(v)` row this build
// requires (spec §4.8 "version(v) ... enforced on both read-only and
// read-write pools at startup").
const supportedVersion uint = 1

//go:embed migrations/*
var migrationFiles embed.FS

func newMigrate(db *sql.DB) *migrate.Migrate {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("store: postgres migrate driver: %v", err)
	}
	d, err := iofs.New(migrationFiles, "migrations/postgres")
	if err != nil {
		log.Fatalf("store: iofs source: %v", err)
	}
	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		log.Fatalf("store: migrate.NewWithInstance: %v", err)
	}
	return m
}

// checkDBVersion fatal-exits on a schema mismatch, exactly as the teacher's
// repository.checkDBVersion does for its own two-backend case.
func checkDBVersion(db *sql.DB) {
	m := newMigrate(db)
	defer m.Close()

	v, _, err := m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			log.Warn("store: database has no version row, run --migrate-db first")
			os.Exit(1)
		}
		log.Fatalf("store: reading schema version: %v", err)
	}

	if v != supportedVersion {
		log.Warnf("store: unsupported schema version %d, need %d. Run the work-manager/scenario-evaluator binary with --migrate-db.", v, supportedVersion)
		os.Exit(1)
	}
}

// MigrateDB applies every pending migration against dsn, for the
// `--migrate-db` CLI flag both daemons expose.
func MigrateDB(dsn string) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("store: sql.Open: %v", err)
	}
	defer db.Close()

	m := newMigrate(db)
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("store: migrate up: %v", err)
	}
}
