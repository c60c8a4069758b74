// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	require.Equal(t, "spawning", StateSpawning.String())
	require.Equal(t, "healthy", StateHealthy.String())
	require.Equal(t, "unhealthy", StateUnhealthy.String())
	require.Equal(t, "draining", StateDraining.String())
}

func TestInvokeSynthesizesTooDeepWithoutDialing(t *testing.T) {
	d := New(Config{Port: 1, MaxRecursionDepth: 2})

	reply, err := d.Invoke(context.Background(), 2, time.Second, Request{})
	require.NoError(t, err)
	require.True(t, reply.IsOk())
	require.Equal(t, []string{"TOODEEP"}, reply.Ok.Symbols)
}

func TestHealthCheckFailsWithoutListener(t *testing.T) {
	d := New(Config{Port: 1})
	err := d.HealthCheck(context.Background())
	require.Error(t, err)
	require.Equal(t, StateUnhealthy, d.State())
}

func TestWaitReportsProcessExit(t *testing.T) {
	d := New(Config{Path: "/bin/true"})
	require.NoError(t, d.Start())

	select {
	case err := <-d.Wait():
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("backend did not exit in time")
	}
	require.Equal(t, StateDraining, d.State())
}
