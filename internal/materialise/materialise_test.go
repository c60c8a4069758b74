// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package materialise

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/backend"
	contentstore "github.com/ClusterCockpit/cc-artifactgraph/internal/materialise/store"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

func newTestMaterialiser(t *testing.T) (*Materialiser, string) {
	t.Helper()
	dir := t.TempDir()
	content := contentstore.NewFsStore(filepath.Join(dir, "cas"))
	cfg := Config{HashAlgorithms: []string{"sha256"}, MaxObjectSize: 1 << 20, MaxChildConcurrency: 4}
	return New(cfg, content, nil, nil), dir
}

func writeTempFile(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "tmp-"+uuid.NewString())
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestMaterialiseChildFailedMarker(t *testing.T) {
	m, _ := newTestMaterialiser(t)
	parent := &schema.Object{WorkID: uuid.New(), Org: "acme", RecursionLevel: 0}

	child, err := m.MaterialiseChild(context.Background(), parent, backend.ChildDescriptor{Symbols: []string{"x"}})
	require.NoError(t, err)

	_, isErr := child.Result.Err()
	require.True(t, isErr)
	require.Equal(t, 1, child.RecursionLevel)
}

func TestMaterialiseChildStoresContentAndHashes(t *testing.T) {
	m, dir := newTestMaterialiser(t)
	parent := &schema.Object{WorkID: uuid.New(), Org: "acme", RecursionLevel: 0}

	path := writeTempFile(t, dir, "hello world")
	child, err := m.MaterialiseChild(context.Background(), parent, backend.ChildDescriptor{Path: &path, Symbols: []string{"carried"}})
	require.NoError(t, err)

	ok, isOk := child.Result.Ok()
	require.True(t, isOk)
	require.Contains(t, ok.Symbols, "CARRIED")
	require.NotEmpty(t, child.Hashes["sha256"])
	require.Equal(t, int64(len("hello world")), child.Size)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestMaterialiseChildFlagsOversizeObject(t *testing.T) {
	m, dir := newTestMaterialiser(t)
	m.cfg.MaxObjectSize = 1
	parent := &schema.Object{WorkID: uuid.New(), Org: "acme", RecursionLevel: 0}

	path := writeTempFile(t, dir, "this is definitely more than one byte")
	child, err := m.MaterialiseChild(context.Background(), parent, backend.ChildDescriptor{Path: &path})
	require.NoError(t, err)

	ok, _ := child.Result.Ok()
	require.Contains(t, ok.Symbols, "MAX_SIZE_REACHED")
}

func TestMaterialiseChildPropagatesGlobalRelationMeta(t *testing.T) {
	m, dir := newTestMaterialiser(t)
	parent := &schema.Object{
		WorkID:         uuid.New(),
		Org:            "acme",
		RecursionLevel: 0,
		RelationMeta:   map[string]interface{}{schema.GlobalRelationKey: "carried-global"},
	}

	path := writeTempFile(t, dir, "data")
	child, err := m.MaterialiseChild(context.Background(), parent, backend.ChildDescriptor{Path: &path})
	require.NoError(t, err)
	require.Equal(t, "carried-global", child.RelationMeta[schema.GlobalRelationKey])
}

func TestMaterialiseChildrenBoundedFanOut(t *testing.T) {
	m, dir := newTestMaterialiser(t)
	m.cfg.MaxChildConcurrency = 2
	parent := &schema.Object{WorkID: uuid.New(), Org: "acme", RecursionLevel: 0}

	descs := make([]backend.ChildDescriptor, 5)
	for i := range descs {
		p := writeTempFile(t, dir, "child-content")
		descs[i] = backend.ChildDescriptor{Path: &p}
	}

	children, err := m.MaterialiseChildren(context.Background(), parent, descs)
	require.NoError(t, err)
	require.Len(t, children, 5)
	for _, c := range children {
		require.NotNil(t, c)
	}
}

func TestMergeAVSymbolsPassesNamespacedSymbolsThrough(t *testing.T) {
	out := mergeAVSymbols(nil, []string{schema.PatternNamespace + ".Pattern.deadbeef"}, false)
	require.Equal(t, []string{schema.PatternNamespace + ".Pattern.deadbeef"}, out)
}

func TestMergeAVSymbolsPrefixesAndFlagsInfected(t *testing.T) {
	out := mergeAVSymbols(nil, []string{"Eicar-Test-Signature"}, false)
	require.Contains(t, out, "INFECTED_CLAM_Eicar-Test-Signature")
	require.Contains(t, out, "INFECTED")
}

func TestMergeAVSymbolsFlagsIncompleteScan(t *testing.T) {
	out := mergeAVSymbols(nil, nil, true)
	require.Contains(t, out, "AV_SCAN_INCOMPLETE")
}

func TestParseClamdReply(t *testing.T) {
	symbols, incomplete, err := parseClamdReply("stream: OK\x00")
	require.NoError(t, err)
	require.False(t, incomplete)
	require.Empty(t, symbols)

	symbols, incomplete, err = parseClamdReply("stream: Eicar-Test-Signature FOUND\x00")
	require.NoError(t, err)
	require.False(t, incomplete)
	require.Equal(t, []string{"Eicar-Test-Signature"}, symbols)
}
