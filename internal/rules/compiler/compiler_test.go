// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package compiler

import (
	"testing"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/parser"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/pattern"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
	"github.com/stretchr/testify/require"
)

func compileSearch(t *testing.T, src string) (*schema.CompiledRule, *pattern.Registry) {
	t.Helper()
	rule, err := parser.Parse(src)
	require.NoError(t, err)
	compiled, reg, err := Compile(rule, schema.QuerySearch, nil)
	require.NoError(t, err)
	return compiled, reg
}

func TestCompileMatchObjectMetaEquality(t *testing.T) {
	compiled, _ := compileSearch(t, `@match_object_meta($x == 1)`)
	require.Equal(t,
		`FROM objects AS "objects_0" WHERE (("objects_0".result @? '$.ok.object_metadata.x' AND "objects_0".result->'ok'->'object_metadata' @? '$.x ? (@!=null && @==1)'))`,
		compiled.Query)
}

func TestCompileDateSince(t *testing.T) {
	compiled, _ := compileSearch(t, `@date_since("2000-01-01")`)
	require.Equal(t,
		`FROM objects AS "objects_0" WHERE ("objects_0".t >= '2000-01-01')`,
		compiled.Query)
}

func TestCompileVariableSubstitutionCompilesIdentically(t *testing.T) {
	withVar, _ := compileSearch(t, `${x}=1; size==${x}`)
	plain, _ := compileSearch(t, `size==1`)
	require.Equal(t, plain.Query, withVar.Query)
}

func TestCompileFieldComparisonUsesSQLOperators(t *testing.T) {
	compiled, _ := compileSearch(t, `size==1`)
	require.Equal(t, `FROM objects AS "objects_0" WHERE ("objects_0".size=1)`, compiled.Query)

	compiled, _ = compileSearch(t, `size!=1`)
	require.Equal(t, `FROM objects AS "objects_0" WHERE ("objects_0".size<>1)`, compiled.Query)
}

func TestCompileBareFieldIsBooleanShorthand(t *testing.T) {
	compiled, _ := compileSearch(t, `is_entry`)
	require.Equal(t, `FROM objects AS "objects_0" WHERE ("objects_0".is_entry=true)`, compiled.Query)
}

func TestCompileMatchPatternRegistersPattern(t *testing.T) {
	compiled, reg := compileSearch(t, `@match_pattern(deadbeef)`)
	dump := reg.Dump()
	require.Len(t, dump, 1)
	require.Equal(t,
		`FROM objects AS "objects_0" WHERE ("objects_0"."result"->'ok'->'symbols'?`+sqlStringLiteral(dump[0].Name)+`)`,
		compiled.Query)
}

func TestCompileMatchPatternDedupesIdenticalCanonicalForms(t *testing.T) {
	_, reg := compileSearch(t, `@match_pattern(deadbeef) && @match_pattern(DEADBEEF)`)
	require.Len(t, reg.Dump(), 1)
}

func TestCompileHasObjectMetaConjunctionWithNegation(t *testing.T) {
	compiled, _ := compileSearch(t, `@has_object_meta($possible_passwords) && !@has_object_meta($programming_language)`)
	require.Equal(t,
		`FROM objects AS "objects_0" WHERE (`+
			`("objects_0".result @? '$.ok.object_metadata.possible_passwords' AND "objects_0".result->'ok'->'object_metadata' @? '$.possible_passwords ? (@!=null)')`+
			` AND NOT (`+
			`"objects_0".result @? '$.ok.object_metadata.programming_language' AND "objects_0".result->'ok'->'object_metadata' @? '$.programming_language ? (@!=null)'`+
			`))`,
		compiled.Query)
}

func TestCompileStringEscaping(t *testing.T) {
	compiled, _ := compileSearch(t, `@has_error("it's a \\trap")`)
	require.Contains(t, compiled.Query, sqlStringLiteral(`it's a \trap`))
}

func TestCompileStringLiteralWithBackslashUsesExtendedForm(t *testing.T) {
	got := sqlStringLiteral(`a\b`)
	require.Equal(t, ` E'a\\b'`, got)
}

func TestCompileStringLiteralPlainQuoting(t *testing.T) {
	require.Equal(t, `'it''s'`, sqlStringLiteral(`it's`))
}

func TestCompileHasChildNestedAliases(t *testing.T) {
	compiled, _ := compileSearch(t, `@has_child(@has_child(@match_pattern(deadbeef)))`)
	require.Contains(t, compiled.Query, `"objects_1"`)
	require.Contains(t, compiled.Query, `"objects_2"`)
	require.Contains(t, compiled.Query, `parent = "objects_0"."id"`)
	require.Contains(t, compiled.Query, `parent = "objects_1"."id"`)
}

func TestCompileDateRangeDateOnly(t *testing.T) {
	compiled, _ := compileSearch(t, `@date_range("2000-01-01", "2000-01-01")`)
	require.Equal(t,
		`FROM objects AS "objects_0" WHERE ("objects_0".t BETWEEN '2000-01-01' AND (DATE '2000-01-01'+1-INTERVAL '1 microseconds'))`,
		compiled.Query)
}

func TestCompileDateRangeDatetime(t *testing.T) {
	compiled, _ := compileSearch(t, `@date_range("2000-01-01 00:00:00", "2000-01-01 00:00:00")`)
	require.Equal(t,
		`FROM objects AS "objects_0" WHERE ("objects_0".t BETWEEN '2000-01-01 00:00:00' AND (DATE '2000-01-01 00:00:00'+INTERVAL '1 seconds'-INTERVAL '1 microseconds'))`,
		compiled.Query)
}

func TestCompileDateRangeRejectsInvalidCalendarDate(t *testing.T) {
	rule, err := parser.Parse(`@date_range("2000-02-30", "2000-02-30")`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QuerySearch, nil)
	require.Error(t, err)
}

func TestCompileDateRangeAcceptsLeapDay(t *testing.T) {
	rule, err := parser.Parse(`@date_range("2000-02-29", "2000-02-29")`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QuerySearch, nil)
	require.NoError(t, err)
}

func TestCompileDateRangeRejectsMixedPrecision(t *testing.T) {
	rule, err := parser.Parse(`@date_range("2000-01-01", "2000-01-01 00:00:00")`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QuerySearch, nil)
	require.Error(t, err)
}

func TestCompileObjectMetaLen(t *testing.T) {
	compiled, _ := compileSearch(t, `@match_object_meta($x.len() == 5)`)
	require.Equal(t,
		`FROM objects AS "objects_0" WHERE ((exists (SELECT 1 FROM jsonb_path_query("objects_0".result, '$.ok.object_metadata.x ? (@.type() == "string")') AS value WHERE length(value #>> '{}') = 5)))`,
		compiled.Query)
}

func TestCompileObjectMetaLenNotEqual(t *testing.T) {
	compiled, _ := compileSearch(t, `@match_object_meta($x.len() != 5)`)
	require.Contains(t, compiled.Query, "<> 5")
}

func TestCompileObjectMetaFilterConjunction(t *testing.T) {
	compiled, _ := compileSearch(t, `@match_object_meta($x ? ($a == 1 && $b == "s"))`)
	require.Equal(t,
		`FROM objects AS "objects_0" WHERE (("objects_0".result @? '$.ok.object_metadata.x' AND "objects_0".result->'ok'->'object_metadata' @? '$.x ? (@!=null && (@.a==1&&@.b=="s"))'))`,
		compiled.Query)
}

func TestCompileObjectMetaFilterNotEqualTypeMismatch(t *testing.T) {
	compiled, _ := compileSearch(t, `@match_object_meta($x ? ($z != 1))`)
	require.Contains(t, compiled.Query, `(@.z!=1 || @.z.type()!="number")`)
}

func TestCompileObjectMetaFilterFieldToField(t *testing.T) {
	compiled, _ := compileSearch(t, `@match_object_meta($x ? ($a == $b))`)
	require.Contains(t, compiled.Query, `@.a==@.b`)
}

func TestCompileRegexModifierOnJSONPath(t *testing.T) {
	compiled, _ := compileSearch(t, `@match_object_meta($x regex("^ab"))`)
	require.Contains(t, compiled.Query, `@ like_regex "^ab"`)
}

func TestCompileIRegexModifierViaVariable(t *testing.T) {
	withVar, _ := compileSearch(t, `${x}="^ab"; @match_object_meta($y iregex(${x}))`)
	plain, _ := compileSearch(t, `@match_object_meta($y iregex("^ab"))`)
	require.Equal(t, plain.Query, withVar.Query)
}

func TestCompileMatchPatternVariableReference(t *testing.T) {
	withVar, regWithVar := compileSearch(t, `${x}=pattern(deadbeef); @match_pattern(${x})`)
	plain, regPlain := compileSearch(t, `@match_pattern(deadbeef)`)
	require.Equal(t, plain.Query, withVar.Query)
	require.Equal(t, regPlain.Dump()[0].Name, regWithVar.Dump()[0].Name)
}

func TestCompileHasSymbolStartsWith(t *testing.T) {
	compiled, _ := compileSearch(t, `@has_symbol(starts_with("lib"))`)
	require.Contains(t, compiled.Query, `@ starts with "lib"`)
}

func TestCompileScenarioGlobalRequiresSettings(t *testing.T) {
	rule, err := parser.Parse(`size==1`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QueryScenarioGlobal, nil)
	require.Error(t, err)
}

func TestCompileScenarioGlobalRejectsSettingsOutsideGlobal(t *testing.T) {
	rule, err := parser.Parse(`size==1`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QuerySearch, &schema.GlobalQuerySettings{})
	require.Error(t, err)
}

func TestCompileScenarioGlobalShape(t *testing.T) {
	rule, err := parser.Parse(`size==1`)
	require.NoError(t, err)
	compiled, _, err := Compile(rule, schema.QueryScenarioGlobal, &schema.GlobalQuerySettings{})
	require.NoError(t, err)
	require.NotNil(t, compiled.WithClause)
	require.Equal(t, `WITH "objects_0" AS (SELECT * FROM objects WHERE id = $2)`, *compiled.WithClause)
	require.Equal(t, `FROM "objects_0" WHERE ($1 = "objects_0".work_id AND ("objects_0".size=1))`, compiled.Query)
}

func TestCompileScenarioGlobalRejectsHasChild(t *testing.T) {
	rule, err := parser.Parse(`@has_child(size==1)`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QueryScenarioGlobal, &schema.GlobalQuerySettings{})
	require.Error(t, err)
}

func TestCompileUnknownFunction(t *testing.T) {
	rule, err := parser.Parse(`@frobnicate(1)`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QuerySearch, nil)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
}

func TestCompileUnknownField(t *testing.T) {
	rule, err := parser.Parse(`bogus_field==1`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QuerySearch, nil)
	require.Error(t, err)
}

func TestCompileLenRequiresInteger(t *testing.T) {
	rule, err := parser.Parse(`@match_object_meta($x.len() == "5")`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QuerySearch, nil)
	require.Error(t, err)
}

func TestCompileMalformedPatternFails(t *testing.T) {
	rule, err := parser.Parse(`@match_pattern(zz)`)
	require.NoError(t, err)
	_, _, err = Compile(rule, schema.QuerySearch, nil)
	require.Error(t, err)
}
