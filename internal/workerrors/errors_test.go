// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package workerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSoftTransientWrapsCauseAndSentinel(t *testing.T) {
	cause := errors.New("backend crashed")
	err := SoftTransient(cause)
	require.True(t, errors.Is(err, ErrSoftTransient))
	require.True(t, errors.Is(err, cause))
}

func TestHardTransientWrapsCauseAndSentinel(t *testing.T) {
	cause := errors.New("broker lost")
	err := HardTransient(cause)
	require.True(t, errors.Is(err, ErrHardTransient))
	require.True(t, errors.Is(err, cause))
}

func TestLimitReachedSymbolAndUnwrap(t *testing.T) {
	err := &LimitReached{Limit: "recursion"}
	require.Equal(t, "MAX_RECURSION_REACHED", err.Symbol())
	require.True(t, errors.Is(err, ErrLimitsReached))
}
