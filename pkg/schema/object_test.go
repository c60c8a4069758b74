// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeSymbol(t *testing.T) {
	require.Equal(t, "HELLOWORLD123", SanitizeSymbol("hello-world123!"))
	require.Equal(t, "", SanitizeSymbol("日本語"))
}

func TestNewOkResultSanitizesAndDedups(t *testing.T) {
	r := NewOkResult([]string{"bbb", "aaa", "aaa", "bad key!"}, map[string]interface{}{"bad key!": 1}, nil)
	ok, isOk := r.Ok()
	require.True(t, isOk)
	require.Equal(t, []string{"AAA", "BADKEY", "BBB"}, ok.Symbols)
	require.Contains(t, ok.ObjectMetadata, "BADKEY")
}

func TestObjectResultMarshalRoundTrip(t *testing.T) {
	r := NewOkResult([]string{"FOO"}, map[string]interface{}{"x": 1.0}, nil)
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var out ObjectResult
	require.NoError(t, json.Unmarshal(b, &out))
	ok, isOk := out.Ok()
	require.True(t, isOk)
	require.Equal(t, []string{"FOO"}, ok.Symbols)
}

func TestObjectResultBothKeysPrefersError(t *testing.T) {
	raw := []byte(`{"ok": {"symbols": [], "object_metadata": {}, "children": []}, "error": "boom"}`)
	require.True(t, HasBothKeys(raw))

	var out ObjectResult
	require.NoError(t, json.Unmarshal(raw, &out))
	errResult, isErr := out.Err()
	require.True(t, isErr)
	require.Equal(t, "boom", errResult.Message)
}

func TestNewChildObjectRecursionLevel(t *testing.T) {
	parent := &Object{RecursionLevel: 2}
	child := NewChildObject(parent, "zip", 10, Hashes{"sha256": "ab"})
	require.Equal(t, 3, child.RecursionLevel)
}

func TestPropagateGlobal(t *testing.T) {
	parent := &Object{RelationMeta: map[string]interface{}{GlobalRelationKey: "carried", "other": "dropped"}}
	child := &Object{}
	PropagateGlobal(parent, child)
	require.Equal(t, "carried", child.RelationMeta[GlobalRelationKey])
	require.NotContains(t, child.RelationMeta, "other")
}

func TestPropagateGlobalNoop(t *testing.T) {
	parent := &Object{}
	child := &Object{}
	PropagateGlobal(parent, child)
	require.Nil(t, child.RelationMeta)
}

func TestContentAddressPrefersStrongestAlgo(t *testing.T) {
	require.Equal(t, "sha256:abc", ContentAddress(Hashes{"sha256": "abc", "md5": "def"}))
	require.Equal(t, "sha1:def", ContentAddress(Hashes{"sha1": "def", "md5": "ghi"}))
	require.Equal(t, "", ContentAddress(Hashes{"crc32": "x"}))
}

func TestNewChildObjectDerivesObjectID(t *testing.T) {
	parent := &Object{RecursionLevel: 0}
	child := NewChildObject(parent, "zip", 10, Hashes{"sha256": "ab"})
	require.Equal(t, "sha256:ab", child.ObjectID)
}

func TestHashesValueScanRoundTrip(t *testing.T) {
	h := Hashes{"sha256": "ab"}
	v, err := h.Value()
	require.NoError(t, err)

	var out Hashes
	require.NoError(t, out.Scan(v.([]byte)))
	require.Equal(t, h, out)
}

func TestObjectResultValueScanRoundTrip(t *testing.T) {
	r := NewOkResult([]string{"FOO"}, nil, nil)
	v, err := r.Value()
	require.NoError(t, err)

	var out ObjectResult
	require.NoError(t, out.Scan(v.([]byte)))
	ok, isOk := out.Ok()
	require.True(t, isOk)
	require.Equal(t, []string{"FOO"}, ok.Symbols)
}
