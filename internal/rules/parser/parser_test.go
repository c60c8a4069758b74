// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"testing"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleComparison(t *testing.T) {
	r, err := Parse(`size==1`)
	require.NoError(t, err)
	require.Empty(t, r.Assignments)

	cmp, ok := r.Expr.(*Comparison)
	require.True(t, ok)
	field, ok := cmp.Left.(*FieldRef)
	require.True(t, ok)
	require.Equal(t, "size", field.Name)
	require.Equal(t, OpEq, cmp.Op)
	lit, ok := cmp.Right.(*Literal)
	require.True(t, ok)
	require.Equal(t, int64(1), *lit.Int)
}

func TestParseVariableSubstitutionCompilesIdentically(t *testing.T) {
	withVar, err := Parse(`${x}=1; size==${x}`)
	require.NoError(t, err)
	plain, err := Parse(`size==1`)
	require.NoError(t, err)

	require.Len(t, withVar.Assignments, 1)
	require.Equal(t, "x", withVar.Assignments[0].Name)
	require.Equal(t, schema.VarInteger, withVar.Assignments[0].Literal.Type())

	cmpWithVar := withVar.Expr.(*Comparison)
	cmpPlain := plain.Expr.(*Comparison)
	require.Equal(t, cmpPlain.Op, cmpWithVar.Op)
	varRef, ok := cmpWithVar.Right.(*VarRef)
	require.True(t, ok)
	require.Equal(t, "x", varRef.Name)
}

func TestParseVariableReferencedBeforeAssignment(t *testing.T) {
	_, err := Parse(`size==${x}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "referenced before assignment")
}

func TestParseVariableReassignment(t *testing.T) {
	_, err := Parse(`${x}=1; ${x}=2; size==${x}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reassigned")
}

func TestParseAndOrNotPrecedence(t *testing.T) {
	// NOT binds tighter than AND, AND tighter than OR.
	r, err := Parse(`@has_name("a") || @has_name("b") && !@has_name("c")`)
	require.NoError(t, err)

	or, ok := r.Expr.(*Or)
	require.True(t, ok)
	require.Len(t, or.Terms, 2)

	and, ok := or.Terms[1].(*And)
	require.True(t, ok)
	require.Len(t, and.Terms, 2)

	not, ok := and.Terms[1].(*Not)
	require.True(t, ok)
	_, ok = not.X.(*FunctionCall)
	require.True(t, ok)
}

func TestParseMatchObjectMetaComparisonForm(t *testing.T) {
	r, err := Parse(`@match_object_meta($x == 1)`)
	require.NoError(t, err)
	fc, ok := r.Expr.(*FunctionCall)
	require.True(t, ok)
	require.Equal(t, "match_object_meta", fc.Name)
	require.Len(t, fc.Args, 1)

	cmp, ok := fc.Args[0].(*Comparison)
	require.True(t, ok)
	path, ok := cmp.Left.(*JSONPath)
	require.True(t, ok)
	require.Equal(t, "x", path.Root)
	require.Empty(t, path.Segments)
	require.Equal(t, OpEq, cmp.Op)
}

func TestParseMatchObjectMetaFilterForm(t *testing.T) {
	r, err := Parse(`@match_object_meta($x ? (@has_name("a")))`)
	require.NoError(t, err)
	fc := r.Expr.(*FunctionCall)
	path, ok := fc.Args[0].(*JSONPath)
	require.True(t, ok)
	require.NotNil(t, path.Filter)
}

func TestParseJSONPathLen(t *testing.T) {
	r, err := Parse(`@has_object_meta($a.b[0].c.len())`)
	require.NoError(t, err)
	fc := r.Expr.(*FunctionCall)
	path := fc.Args[0].(*JSONPath)
	require.True(t, path.Len)
	require.Equal(t, "a", path.Root)
	require.Equal(t, []PathSegment{{Field: "b"}, {Index: intPtr(0)}, {Field: "c"}}, path.Segments)
}

func TestParseHasObjectMetaConjunction(t *testing.T) {
	r, err := Parse(`@has_object_meta($possible_passwords) && !@has_object_meta($programming_language)`)
	require.NoError(t, err)
	and, ok := r.Expr.(*And)
	require.True(t, ok)
	require.Len(t, and.Terms, 2)
	_, ok = and.Terms[0].(*FunctionCall)
	require.True(t, ok)
	not, ok := and.Terms[1].(*Not)
	require.True(t, ok)
	_, ok = not.X.(*FunctionCall)
	require.True(t, ok)
}

func TestParseMatchPatternCapturesRawArgument(t *testing.T) {
	r, err := Parse(`@match_pattern(deadbeef)`)
	require.NoError(t, err)
	fc := r.Expr.(*FunctionCall)
	lit := fc.Args[0].(*Literal)
	require.Equal(t, "deadbeef", *lit.Pattern)
}

func TestParseMatchPatternWithParensAndAlternation(t *testing.T) {
	r, err := Parse(`@match_pattern((aa|bb) ?? [00-ff])`)
	require.NoError(t, err)
	fc := r.Expr.(*FunctionCall)
	lit := fc.Args[0].(*Literal)
	require.Equal(t, "(aa|bb) ?? [00-ff]", *lit.Pattern)
}

func TestParseDateSince(t *testing.T) {
	// @date_since's argument is a plain quoted string at the grammar level;
	// the Rule Compiler is what knows this function's argument is a date and
	// validates/converts it (spec §4.2, §8 "Date-literal calendar correctness").
	r, err := Parse(`@date_since("2000-01-01")`)
	require.NoError(t, err)
	fc := r.Expr.(*FunctionCall)
	require.Equal(t, "date_since", fc.Name)
	lit := fc.Args[0].(*Literal)
	require.Equal(t, "2000-01-01", *lit.Str)
}

func TestParseStringModifiers(t *testing.T) {
	r, err := Parse(`@has_name(regex("^foo"))`)
	require.NoError(t, err)
	fc := r.Expr.(*FunctionCall)
	lit := fc.Args[0].(*Literal)
	require.Equal(t, schema.StringRegex, lit.StrMod)
	require.Equal(t, "^foo", *lit.Str)
}

func TestParseHasChildSubexpression(t *testing.T) {
	r, err := Parse(`@has_child(@has_name("evil.exe"))`)
	require.NoError(t, err)
	fc := r.Expr.(*FunctionCall)
	require.Equal(t, "has_child", fc.Name)
	_, ok := fc.Args[0].(*FunctionCall)
	require.True(t, ok)
}

func TestParseConstantStringEscapes(t *testing.T) {
	s, err := ParseConstantString(`"1' UNION SELECT 'a'; -- -'"`)
	require.NoError(t, err)
	require.Equal(t, `1' UNION SELECT 'a'; -- -'`, s)
}

func TestParseGrammarErrorHasPosition(t *testing.T) {
	_, err := Parse(`size ===`)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func intPtr(n int) *int { return &n }
