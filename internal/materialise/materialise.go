// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package materialise turns backend-produced child descriptors into stored,
// typed, AV-scanned schema.Object nodes (spec §4.5).
package materialise

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/backend"
	contentstore "github.com/ClusterCockpit/cc-artifactgraph/internal/materialise/store"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/workerrors"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// TypeDetector classifies a stored file's object type when a backend child
// did not set force_type (spec §4.5 "auxiliary type detector").
type TypeDetector interface {
	Detect(ctx context.Context, path string) (objectType string, err error)
}

// AVScanner scans a stored file and returns the raw (unprefixed) symbols an
// infection produced, plus whether the scan itself failed to complete (spec
// §4.5 post-merge policy).
type AVScanner interface {
	Scan(ctx context.Context, path string) (symbols []string, incomplete bool, err error)
}

// Config bounds the Materialiser's resource usage (spec §4.5 "fixed fan-out
// cap", spec §7 "user-visible limits").
type Config struct {
	HashAlgorithms      []string
	MaxObjectSize       int64
	MaxChildConcurrency int
}

// Materialiser implements C5. It owns the content store, the type
// detector and the AV scanner it was built with.
type Materialiser struct {
	cfg     Config
	content contentstore.ContentStore
	types   TypeDetector
	av      AVScanner
}

func New(cfg Config, content contentstore.ContentStore, types TypeDetector, av AVScanner) *Materialiser {
	return &Materialiser{cfg: cfg, content: content, types: types, av: av}
}

func newHashers(algos []string) (map[string]hash.Hash, io.Writer, error) {
	hashers := make(map[string]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, a := range algos {
		var h hash.Hash
		switch a {
		case "sha256":
			h = sha256.New()
		case "sha1":
			h = sha1.New()
		case "md5":
			h = md5.New()
		default:
			return nil, nil, fmt.Errorf("materialise: unknown hash algorithm %q", a)
		}
		hashers[a] = h
		writers = append(writers, h)
	}
	return hashers, io.MultiWriter(writers...), nil
}

func digestsOf(hashers map[string]hash.Hash) schema.Hashes {
	out := make(schema.Hashes, len(hashers))
	for algo, h := range hashers {
		out[algo] = fmt.Sprintf("%x", h.Sum(nil))
	}
	return out
}

// rulesEngineNamespacePrefix mirrors pkg/schema.PatternNamespace/registry.go's
// "<Namespace>.Pattern.<hash>" symbol shape: AV symbols already carrying the
// rules engine's own namespace pass through unprefixed (spec §4.5).
var rulesEngineNamespacePrefix = schema.PatternNamespace + "."

func mergeAVSymbols(carried []string, avSymbols []string, incomplete bool) []string {
	out := append([]string{}, carried...)
	infected := false
	for _, s := range avSymbols {
		if len(s) > len(rulesEngineNamespacePrefix) && s[:len(rulesEngineNamespacePrefix)] == rulesEngineNamespacePrefix {
			out = append(out, s)
			continue
		}
		// spec §3's symbol invariant is alphanumeric+underscore only, so the
		// separator here is "_" even though spec §4.5's prose example uses
		// "-"; NewOkResult's SanitizeSymbol would otherwise collapse the
		// hyphens and run the words together.
		out = append(out, "INFECTED_CLAM_"+s)
		infected = true
	}
	if infected {
		out = append(out, "INFECTED")
	}
	if incomplete {
		out = append(out, "AV_SCAN_INCOMPLETE")
	}
	return out
}

// MaterialiseChild turns one backend child descriptor into a persisted-ready
// schema.Object: hashing, atomically storing the content, classifying the
// type, scanning for infections, and merging symbols/metadata (spec §4.5).
func (m *Materialiser) MaterialiseChild(ctx context.Context, parent *schema.Object, desc backend.ChildDescriptor) (*schema.Object, error) {
	if desc.Path == nil {
		child := schema.NewChildObject(parent, "", 0, nil)
		child.Result = schema.NewErrorResult("backend reported child failure")
		child.RelationMeta = desc.RelationMeta
		schema.PropagateGlobal(parent, child)
		return child, nil
	}

	size, hashes, err := m.hashAndStore(ctx, *desc.Path)
	if err != nil {
		return nil, err
	}

	symbols := append([]string{}, desc.Symbols...)
	meta := map[string]interface{}{}
	perf := map[string]interface{}{"time_backend": nan(), "time_clamd": nan()}

	if size > m.cfg.MaxObjectSize {
		lim := &workerrors.LimitReached{Limit: "size"}
		symbols = append(symbols, lim.Symbol())
	}

	objectType := ""
	if desc.ForceType != nil {
		objectType = *desc.ForceType
	} else if m.types != nil {
		key := contentKey(hashes)
		t, err := m.types.Detect(ctx, key)
		if err != nil {
			return nil, workerrors.SoftTransient(fmt.Errorf("materialise: type detect: %w", err))
		}
		objectType = t
	}

	if m.av != nil {
		start := time.Now()
		avSymbols, incomplete, err := m.av.Scan(ctx, contentKey(hashes))
		perf["time_clamd"] = time.Since(start).Seconds()
		if err != nil {
			log.Warnf("materialise: av scan failed for %s: %v", contentKey(hashes), err)
			incomplete = true
		}
		symbols = mergeAVSymbols(symbols, avSymbols, incomplete)
	}

	meta["_perf"] = perf

	child := schema.NewChildObject(parent, objectType, size, hashes)
	child.Result = schema.NewOkResult(symbols, meta, nil)
	child.RelationMeta = desc.RelationMeta
	schema.PropagateGlobal(parent, child)
	return child, nil
}

// MaterialiseChildren runs MaterialiseChild over every descriptor
// concurrently, capped at cfg.MaxChildConcurrency (spec §4.5 "detection
// proceeds concurrently across children with a fixed fan-out cap").
func (m *Materialiser) MaterialiseChildren(ctx context.Context, parent *schema.Object, descs []backend.ChildDescriptor) ([]*schema.Object, error) {
	children := make([]*schema.Object, len(descs))

	g, ctx := errgroup.WithContext(ctx)
	limit := m.cfg.MaxChildConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, desc := range descs {
		i, desc := i, desc
		g.Go(func() error {
			child, err := m.MaterialiseChild(ctx, parent, desc)
			if err != nil {
				return err
			}
			children[i] = child
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return children, nil
}

func (m *Materialiser) hashAndStore(ctx context.Context, tmpPath string) (int64, schema.Hashes, error) {
	f, err := os.Open(tmpPath)
	if err != nil {
		return 0, nil, workerrors.SoftTransient(fmt.Errorf("materialise: open temp file: %w", err))
	}

	hashers, mw, err := newHashers(m.cfg.HashAlgorithms)
	if err != nil {
		f.Close()
		return 0, nil, fmt.Errorf("materialise: %w", err)
	}

	size, err := io.Copy(mw, f)
	f.Close()
	if err != nil {
		return 0, nil, workerrors.SoftTransient(fmt.Errorf("materialise: hash temp file: %w", err))
	}

	hashes := digestsOf(hashers)
	key := contentKey(hashes)

	exists, err := m.content.Exists(ctx, key)
	if err != nil {
		return 0, nil, workerrors.SoftTransient(fmt.Errorf("materialise: check existing content: %w", err))
	}
	if exists {
		if err := os.Remove(tmpPath); err != nil {
			log.Warnf("materialise: remove duplicate temp file %s: %v", tmpPath, err)
		}
		return size, hashes, nil
	}

	if err := m.content.Put(ctx, key, tmpPath); err != nil {
		return 0, nil, workerrors.SoftTransient(fmt.Errorf("materialise: store content: %w", err))
	}
	return size, hashes, nil
}

func contentKey(hashes schema.Hashes) string {
	return schema.ContentAddress(hashes)
}

// nan is a tiny indirection so the "NaN permitted" perf fields (spec §4.5)
// read as an explicit absence value rather than a bare math.NaN() call
// buried in a map literal.
func nan() float64 {
	var zero float64
	return zero / zero
}
