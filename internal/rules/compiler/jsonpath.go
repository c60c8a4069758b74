// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package compiler

import (
	"fmt"
	"strings"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/parser"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// renderPath renders a JSON path's root and segments as the dotted/bracket
// notation used both in Postgres jsonb path strings and inside a filter
// body's "@.field" references: "x", "x.y.z", "x[0].z", "x[0][0]".
//
// This is hand-rendered rather than built on a general JSON-path library:
// the target isn't a JSON path value to evaluate, it's a specific Postgres
// jsonpath *literal string* whose exact punctuation (quoting, operand
// spacing, the "@!=null &&" wrapper) is dictated byte-for-byte by spec §8 and
// by original_source's fixtures — a generic path library would give us a
// parsed path, not this string.
func renderPath(root string, segs []parser.PathSegment) string {
	var b strings.Builder
	b.WriteString(root)
	for _, s := range segs {
		if s.Index != nil {
			fmt.Fprintf(&b, "[%d]", *s.Index)
		} else {
			b.WriteString(".")
			b.WriteString(s.Field)
		}
	}
	return b.String()
}

// jsonPathValue renders a literal's value as it appears on the right of a
// jsonpath comparison operator: bare for bool/int, a double-quoted jsonpath
// string for Str.
func jsonPathValue(lit *parser.Literal) (string, error) {
	switch {
	case lit.Bool != nil:
		if *lit.Bool {
			return "true", nil
		}
		return "false", nil
	case lit.Int != nil:
		return fmt.Sprintf("%d", *lit.Int), nil
	case lit.Str != nil:
		return jsonPathStringLiteral(*lit.Str), nil
	default:
		return "", errAt(lit.Pos, "literal has no JSON-path value")
	}
}

func jsonTypeName(lit *parser.Literal) string {
	switch {
	case lit.Bool != nil:
		return "boolean"
	case lit.Int != nil:
		return "number"
	default:
		return "string"
	}
}

// resolveStringMod resolves op (a Literal, a VarRef bound to one, or a
// StringMatch wrapping either) to its underlying string literal and the
// modifier that applies to it.
func (c *compiler) resolveStringMod(op parser.Operand) (*parser.Literal, schema.StringMod, error) {
	if sm, ok := op.(*parser.StringMatch); ok {
		inner := c.resolveOperand(sm.Value)
		lit, ok := inner.(*parser.Literal)
		if !ok || lit.Str == nil {
			return nil, 0, errAt(op.Position(), "expected a string argument")
		}
		return lit, sm.Mod, nil
	}
	resolved := c.resolveOperand(op)
	lit, ok := resolved.(*parser.Literal)
	if !ok {
		return nil, 0, errAt(op.Position(), "expected a literal argument")
	}
	return lit, lit.StrMod, nil
}

// stringArg resolves a has_name/has_symbol/has_error argument to its value
// and modifier, requiring a string.
func (c *compiler) stringArg(op parser.Operand) (string, schema.StringMod, error) {
	lit, mod, err := c.resolveStringMod(op)
	if err != nil {
		return "", 0, err
	}
	if lit.Str == nil {
		return "", 0, errAt(op.Position(), "expected a string argument")
	}
	return *lit.Str, mod, nil
}

// objectMetaValueFragment renders the right-hand side of a
// match_object_meta comparison as it appears inside the jsonpath filter:
// "@==1", "@ like_regex \"^x\"", "@ starts with \"x\"", etc.
func (c *compiler) objectMetaValueFragment(rhs parser.Operand, op parser.CompareOp) (string, error) {
	lit, mod, err := c.resolveStringMod(rhs)
	if err != nil {
		return "", err
	}
	switch mod {
	case schema.StringRegex:
		return fmt.Sprintf(`@ like_regex %s`, jsonPathStringLiteral(*lit.Str)), nil
	case schema.StringIRegex:
		return fmt.Sprintf(`@ like_regex %s flag "i"`, jsonPathStringLiteral(*lit.Str)), nil
	case schema.StringPrefix:
		return fmt.Sprintf(`@ starts with %s`, jsonPathStringLiteral(*lit.Str)), nil
	}
	val, err := jsonPathValue(lit)
	if err != nil {
		return "", err
	}
	return "@" + op.String() + val, nil
}

// compileObjectMetaComparison lowers the `$path <op> value` form of
// @match_object_meta (spec §4.2, spec §8 example 1). A "!=" comparison
// compiles as the negation of the "==" form rather than as its own jsonpath
// operator (grounded on original_source: `$x != true` compiles to
// `NOT (<exists-and-equals>)`).
func (c *compiler) compileObjectMetaComparison(path *parser.JSONPath, op parser.CompareOp, rhs parser.Operand, anchor string) (string, error) {
	if path.Len {
		return c.compileObjectMetaLen(path, op, rhs, anchor)
	}

	dotted := renderPath(path.Root, path.Segments)
	existence := fmt.Sprintf(`%s.result @? '$.ok.object_metadata.%s'`, anchor, dotted)

	effectiveOp := op
	negate := op == parser.OpNe
	if negate {
		effectiveOp = parser.OpEq
	}
	frag, err := c.objectMetaValueFragment(rhs, effectiveOp)
	if err != nil {
		return "", err
	}

	valueFilter := fmt.Sprintf(`%s.result->'ok'->'object_metadata' @? '$.%s ? (@!=null && %s)'`, anchor, dotted, frag)
	combined := fmt.Sprintf("(%s AND %s)", existence, valueFilter)
	if negate {
		return "NOT (" + combined + ")", nil
	}
	return combined, nil
}

// compileObjectMetaLen lowers the `$path.len() <op> n` form: narrow to
// string-typed matches via jsonb_path_query, then compare the extracted
// string's length (spec §4.2, byte-exact on original_source's fixtures).
func (c *compiler) compileObjectMetaLen(path *parser.JSONPath, op parser.CompareOp, rhs parser.Operand, anchor string) (string, error) {
	resolved := c.resolveOperand(rhs)
	lit, ok := resolved.(*parser.Literal)
	if !ok || lit.Int == nil {
		return "", errAt(path.Pos, ".len() comparisons require an integer value")
	}
	sqlOp, err := comparisonSQLOp(op)
	if err != nil {
		return "", errAt(path.Pos, "%v", err)
	}
	dotted := renderPath(path.Root, path.Segments)
	return fmt.Sprintf(
		`(exists (SELECT 1 FROM jsonb_path_query(%s.result, '$.ok.object_metadata.%s ? (@.type() == "string")') AS value WHERE length(value #>> '{}') %s %d))`,
		anchor, dotted, sqlOp, *lit.Int,
	), nil
}

func comparisonSQLOp(op parser.CompareOp) (string, error) {
	switch op {
	case parser.OpEq:
		return "=", nil
	case parser.OpNe:
		return "<>", nil
	case parser.OpLt:
		return "<", nil
	case parser.OpLe:
		return "<=", nil
	case parser.OpGt:
		return ">", nil
	case parser.OpGe:
		return ">=", nil
	default:
		return "", fmt.Errorf("unknown comparison operator")
	}
}

// compileObjectMetaFilter lowers the `$path ? (boolean-subexpression)` form.
// The subexpression is rendered in a distinct "filter mode" (compileFilterExpr)
// where `$field` means "the current filtered node's field", not
// "ok.object_metadata.field" — then wrapped once in the same
// "@!=null && (...)" template the comparison form uses.
func (c *compiler) compileObjectMetaFilter(path *parser.JSONPath, anchor string) (string, error) {
	dotted := renderPath(path.Root, path.Segments)
	existence := fmt.Sprintf(`%s.result @? '$.ok.object_metadata.%s'`, anchor, dotted)

	body, err := c.compileFilterExpr(path.Filter)
	if err != nil {
		return "", err
	}
	valueFilter := fmt.Sprintf(`%s.result->'ok'->'object_metadata' @? '$.%s ? (@!=null && (%s))'`, anchor, dotted, body)
	return fmt.Sprintf("(%s AND %s)", existence, valueFilter), nil
}

// compileFilterExpr renders a match_object_meta filter subexpression in
// jsonpath-filter syntax: operators with no surrounding whitespace, "&&"/
// "||" joins, and no implicit self-parenthesisation of And/Or — grouping
// comes only from explicit Paren nodes in the source, matching
// original_source's filter fixtures exactly. The enclosing
// "@!=null && (...)" wrapper is added once by the caller, not here.
func (c *compiler) compileFilterExpr(e parser.Expr) (string, error) {
	switch n := e.(type) {
	case *parser.Or:
		parts := make([]string, len(n.Terms))
		for i, t := range n.Terms {
			s, err := c.compileFilterExpr(t)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, "||"), nil

	case *parser.And:
		parts := make([]string, len(n.Terms))
		for i, t := range n.Terms {
			s, err := c.compileFilterExpr(t)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, "&&"), nil

	case *parser.Not:
		s, err := c.compileFilterExpr(n.X)
		if err != nil {
			return "", err
		}
		return "!(" + s + ")", nil

	case *parser.Paren:
		s, err := c.compileFilterExpr(n.X)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil

	case *parser.Comparison:
		return c.compileFilterComparison(n)

	default:
		return "", errAt(e.Position(), "unsupported construct inside a match_object_meta filter")
	}
}

// compileFilterComparison lowers one `$field <op> value` clause inside a
// match_object_meta filter. A "!=" comparison against a typed literal
// expands to an explicit type-mismatch-or-not-equal disjunction, grounded on
// original_source's `$z!=1` -> `(@.z!=1 || @.z.type()!="number")` fixture.
func (c *compiler) compileFilterComparison(cmp *parser.Comparison) (string, error) {
	leftPath, ok := cmp.Left.(*parser.JSONPath)
	if !ok {
		return "", errAt(cmp.Pos, "filter comparisons must start with a $field reference")
	}
	leftSQL := "@." + renderPath(leftPath.Root, leftPath.Segments)

	resolved := c.resolveOperand(cmp.Right)
	switch right := resolved.(type) {
	case *parser.JSONPath:
		rightSQL := "@." + renderPath(right.Root, right.Segments)
		if cmp.Op == parser.OpNe {
			return fmt.Sprintf("(%s%s%s)", leftSQL, cmp.Op.String(), rightSQL), nil
		}
		return leftSQL + cmp.Op.String() + rightSQL, nil

	case *parser.Literal:
		switch right.StrMod {
		case schema.StringRegex:
			return fmt.Sprintf(`%s like_regex %s`, leftSQL, jsonPathStringLiteral(*right.Str)), nil
		case schema.StringIRegex:
			return fmt.Sprintf(`%s like_regex %s flag "i"`, leftSQL, jsonPathStringLiteral(*right.Str)), nil
		case schema.StringPrefix:
			return fmt.Sprintf(`%s starts with %s`, leftSQL, jsonPathStringLiteral(*right.Str)), nil
		}
		val, err := jsonPathValue(right)
		if err != nil {
			return "", err
		}
		if cmp.Op == parser.OpNe {
			return fmt.Sprintf("(%s%s%s || %s.type()!=\"%s\")", leftSQL, cmp.Op.String(), val, leftSQL, jsonTypeName(right)), nil
		}
		return leftSQL + cmp.Op.String() + val, nil

	default:
		return "", errAt(cmp.Pos, "unsupported filter comparison value")
	}
}
