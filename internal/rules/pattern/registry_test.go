// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pattern

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeBareHexDefaultsToWildcardAnchor(t *testing.T) {
	anchor, body, err := Canonicalize("deadbeef")
	require.NoError(t, err)
	require.Equal(t, "*", anchor)
	require.Equal(t, "deadbeef", body)
}

func TestCanonicalizeExplicitAnchor(t *testing.T) {
	anchor, body, err := Canonicalize("EOF-50:e80?000000{-10}5bb9??(00|01)0000{-10}03d9{-10}8b1b{-25}3bd977{-10}cd20")
	require.NoError(t, err)
	require.Equal(t, "EOF-50", anchor)
	require.Equal(t, "e80?000000{-10}5bb9??(00|01)0000{-10}03d9{-10}8b1b{-25}3bd977{-10}cd20", body)
}

func TestCanonicalizeASCIIStringMatchesEquivalentHex(t *testing.T) {
	aAnchor, aBody, err := Canonicalize(`*:696e766f696365`)
	require.NoError(t, err)
	bAnchor, bBody, err := Canonicalize(`*:r"invoice"`)
	require.NoError(t, err)

	require.Equal(t, aAnchor, bAnchor)
	require.Equal(t, aBody, bBody)
	require.Equal(t, "696e766f696365", bBody)
}

func TestCanonicalizeRejectsInvalidChars(t *testing.T) {
	_, _, err := Canonicalize("not-hex-zz")
	require.Error(t, err)
}

func TestCanonicalizeRejectsUnbalancedGroups(t *testing.T) {
	_, _, err := Canonicalize("(aa|bb")
	require.Error(t, err)
}

func TestRegistryDedupesIdenticalCanonicalForms(t *testing.T) {
	r := NewRegistry()
	p1, err := r.Register("deadbeef")
	require.NoError(t, err)
	p2, err := r.Register("*:deadbeef")
	require.NoError(t, err)

	require.Equal(t, p1.Name, p2.Name)
	require.Equal(t, p1.Signature, p2.Signature)
	require.Len(t, r.Dump(), 1)
}

func TestRegistryDedupesASCIIAndHexForms(t *testing.T) {
	r := NewRegistry()
	p1, err := r.Register("*:696e766f696365")
	require.NoError(t, err)
	p2, err := r.Register(`*:r"invoice"`)
	require.NoError(t, err)

	require.Equal(t, p1.Name, p2.Name)
	require.Len(t, r.Dump(), 1)
}

func TestRegistryDistinctPatternsGetDistinctNames(t *testing.T) {
	r := NewRegistry()
	p1, err := r.Register("deadbeef")
	require.NoError(t, err)
	p2, err := r.Register("acab")
	require.NoError(t, err)

	require.NotEqual(t, p1.Name, p2.Name)
	require.Len(t, r.Dump(), 2)
}

func TestRegistrySignatureFormat(t *testing.T) {
	r := NewRegistry()
	p, err := r.Register("deadbeef")
	require.NoError(t, err)
	require.Equal(t, p.Name+":0:*:deadbeef", p.Signature)
}

func TestRegistryDumpOrderIsFirstRegistered(t *testing.T) {
	r := NewRegistry()
	p1, _ := r.Register("aa")
	p2, _ := r.Register("bb")
	p3, _ := r.Register("aa") // repeat, shouldn't move position
	_ = p3

	dump := r.Dump()
	require.Len(t, dump, 2)
	require.Equal(t, p1.Name, dump[0].Name)
	require.Equal(t, p2.Name, dump[1].Name)
}
