// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"fmt"
)

// Config selects and parameterises one ContentStore backend (spec §4.5).
type Config struct {
	Kind   string // "fs" or "s3"
	Path   string
	Bucket string
	Region string
}

// New builds the configured backend, mirroring the teacher's
// pkg/archive.Init kind-switch (sqlite3/fs vs s3) for ContentStore instead
// of ArchiveBackend.
func New(ctx context.Context, cfg Config) (ContentStore, error) {
	switch cfg.Kind {
	case "fs", "":
		return NewFsStore(cfg.Path), nil
	case "s3":
		return NewS3Store(ctx, cfg.Region, cfg.Bucket)
	default:
		return nil, fmt.Errorf("materialise/store: unknown content store kind %q", cfg.Kind)
	}
}
