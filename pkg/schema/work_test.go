// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestJobResultWalkPreOrder(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()
	root := &JobResult{ObjectID: a, Children: []*JobResult{
		{ObjectID: b},
		{ObjectID: c},
	}}

	var visited []uuid.UUID
	root.Walk(func(j *JobResult) bool {
		visited = append(visited, j.ObjectID)
		return true
	})

	require.Equal(t, []uuid.UUID{a, b, c}, visited)
	require.Equal(t, 3, root.CountNodes())
}

func TestJobResultWalkStopsEarly(t *testing.T) {
	root := &JobResult{Children: []*JobResult{{}, {}}}
	count := 0
	root.Walk(func(*JobResult) bool {
		count++
		return count < 1
	})
	require.Equal(t, 1, count)
}

func TestWorkRemainingTTL(t *testing.T) {
	now := time.Now()
	w := &Work{CreatedAt: now.Add(-90 * time.Second), TTL: 60 * time.Second}
	require.Less(t, w.RemainingTTL(now), time.Duration(0))

	w2 := &Work{CreatedAt: now, TTL: 60 * time.Second}
	require.Greater(t, w2.RemainingTTL(now), time.Duration(0))
}
