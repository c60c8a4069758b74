// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store (the object content store, distinct from internal/store's
// Postgres repository) holds the content-addressed blob backends the Object
// Materialiser moves backend-produced temp files into (spec §4.5).
package store

import (
	"context"
	"io"
)

// ContentStore persists a file's bytes under a content-addressed key,
// mirroring the teacher's ArchiveBackend split between an fs and an s3
// implementation (pkg/archive/fsBackend.go, s3Backend.go).
type ContentStore interface {
	// Put atomically moves tmpPath's contents into the store under key,
	// consuming tmpPath (it no longer exists afterwards on success).
	Put(ctx context.Context, key, tmpPath string) error

	// Open returns a reader over the content stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether key is already present, letting the
	// materialiser skip re-storing a duplicate by content hash.
	Exists(ctx context.Context, key string) (bool, error)
}
