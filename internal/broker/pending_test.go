// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

func TestPendingResultFillOutOfOrderCompletes(t *testing.T) {
	parent := &schema.Object{}
	own := schema.NewOkResult([]string{"PARENT"}, nil, nil)
	pr := NewPendingResult(parent, own, []string{"c1", "c2"})

	require.False(t, pr.Fill("c2", &schema.Object{ObjectType: "b"}))
	require.False(t, pr.Complete())
	require.True(t, pr.Fill("c1", &schema.Object{ObjectType: "a"}))
	require.True(t, pr.Complete())

	assembled := pr.Assemble()
	ok, isOk := assembled.Result.Ok()
	require.True(t, isOk)
	require.Len(t, ok.Children, 2)
	require.Equal(t, "a", ok.Children[0].ObjectType)
	require.Equal(t, "b", ok.Children[1].ObjectType)
}

func TestPendingResultWithNoChildrenIsImmediatelyComplete(t *testing.T) {
	pr := NewPendingResult(&schema.Object{}, schema.NewOkResult(nil, nil, nil), nil)
	require.True(t, pr.Complete())
}

func TestPendingResultPreservesErrorResult(t *testing.T) {
	pr := NewPendingResult(&schema.Object{}, schema.NewErrorResult("boom"), []string{"c1"})
	pr.Fill("c1", &schema.Object{})

	assembled := pr.Assemble()
	errResult, isErr := assembled.Result.Err()
	require.True(t, isErr)
	require.Equal(t, "boom", errResult.Message)
}
