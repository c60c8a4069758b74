// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinCols(t *testing.T) {
	require.Equal(t, "a", joinCols([]string{"a"}))
	require.Equal(t, "a, b, c", joinCols([]string{"a", "b", "c"}))
}

func TestSqPropsArgDefaultsToEmptyObject(t *testing.T) {
	require.Equal(t, "{}", sqPropsArg(nil))
	require.Equal(t, map[string]interface{}{"k": "v"}, sqPropsArg(map[string]interface{}{"k": "v"}))
}
