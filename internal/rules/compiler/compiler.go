// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package compiler lowers a parsed rule (internal/rules/parser) into the SQL
// shape selected by a query type (spec §4.2): a WHERE-clause fragment for
// Search/ScenarioLocal, or a WITH-clause-plus-correlated-query pair for
// ScenarioGlobal. Pattern literals are registered with internal/rules/pattern
// along the way.
package compiler

import (
	"fmt"
	"strings"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/parser"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/pattern"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// CompileError reports a compile-time failure positioned at the AST node
// that caused it (spec §4.2's failure categories: unknown function, type
// mismatch, invalid literal, unsupported combination, query-type-forbidden
// construct — grammar errors are reported by internal/rules/parser instead).
type CompileError struct {
	Pos parser.Pos
	Msg string
}

func (e *CompileError) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

func errAt(pos parser.Pos, format string, a ...interface{}) error {
	return &CompileError{Pos: pos, Msg: fmt.Sprintf(format, a...)}
}

// objectColumns are the `objects` table columns (spec §4.8's abstract store
// schema) a bare field identifier may address directly.
var objectColumns = map[string]bool{
	"org": true, "object_id": true, "object_type": true, "object_subtype": true,
	"recursion_level": true, "size": true, "entropy": true, "is_entry": true,
}

type compiler struct {
	qtype    schema.QueryType
	vars     map[string]*parser.Literal
	registry *pattern.Registry
	depth    int
}

// Compile lowers rule into SQL for qtype. globalSettings is required (and
// only meaningful) for QueryScenarioGlobal; see the "`GlobalQuerySettings` is
// a `Compile(...)` parameter" Open Question in DESIGN.md for why these come from the caller
// rather than rule-DSL syntax. The returned Registry holds every pattern
// referenced by the compile, each exactly once (spec §4.3, §8).
func Compile(rule *parser.Rule, qtype schema.QueryType, globalSettings *schema.GlobalQuerySettings) (*schema.CompiledRule, *pattern.Registry, error) {
	if qtype == schema.QueryScenarioGlobal && globalSettings == nil {
		return nil, nil, fmt.Errorf("compiler: QueryScenarioGlobal requires GlobalQuerySettings")
	}
	if qtype != schema.QueryScenarioGlobal && globalSettings != nil {
		return nil, nil, fmt.Errorf("compiler: GlobalQuerySettings only applies to QueryScenarioGlobal")
	}

	c := &compiler{
		qtype:    qtype,
		vars:     map[string]*parser.Literal{},
		registry: pattern.NewRegistry(),
	}
	for _, a := range rule.Assignments {
		c.vars[a.Name] = a.Literal
	}

	anchor := `"objects_0"`
	body, err := c.compileExpr(rule.Expr, anchor)
	if err != nil {
		return nil, nil, err
	}

	switch qtype {
	case schema.QuerySearch, schema.QueryScenarioLocal:
		return &schema.CompiledRule{
			Query: fmt.Sprintf(`FROM objects AS "objects_0" WHERE (%s)`, body),
		}, c.registry, nil

	case schema.QueryScenarioGlobal:
		with := `WITH "objects_0" AS (SELECT * FROM objects WHERE id = $2)`
		return &schema.CompiledRule{
			WithClause:          &with,
			Query:               fmt.Sprintf(`FROM "objects_0" WHERE ($1 = "objects_0".work_id AND (%s))`, body),
			GlobalQuerySettings: globalSettings,
		}, c.registry, nil

	default:
		return nil, nil, fmt.Errorf("compiler: unknown query type %v", qtype)
	}
}

// resolveOperand follows a VarRef to its bound literal (spec §4.1: "a
// variable reference compiles identically to substituting its literal
// value"). Non-VarRef operands pass through unchanged. The parser already
// guarantees every VarRef it produces is in c.vars.
func (c *compiler) resolveOperand(op parser.Operand) parser.Operand {
	if v, ok := op.(*parser.VarRef); ok {
		return c.vars[v.Name]
	}
	return op
}

// compileExpr lowers a boolean AST node to a SQL fragment. Like
// compileFilterExpr's jsonpath rendering, And/Or here don't self-wrap
// — the only sources of parenthesisation are an explicit source
// Paren, a function's own self-contained rendering (e.g. match_object_meta's
// two-clause conjunction), and Not's ensureParens. This is what produces the
// exact nesting original_source's fixtures show: a bare top-level function
// call picks up exactly one pair of parens from the WHERE(%s) template, an
// And of two function calls doesn't add a further pair of its own, and NOT
// re-uses its operand's own parens instead of adding a second layer.
func (c *compiler) compileExpr(e parser.Expr, anchor string) (string, error) {
	switch n := e.(type) {
	case *parser.Or:
		parts := make([]string, len(n.Terms))
		for i, t := range n.Terms {
			s, err := c.compileExpr(t, anchor)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, " OR "), nil

	case *parser.And:
		parts := make([]string, len(n.Terms))
		for i, t := range n.Terms {
			s, err := c.compileExpr(t, anchor)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, " AND "), nil

	case *parser.Not:
		s, err := c.compileExpr(n.X, anchor)
		if err != nil {
			return "", err
		}
		return "NOT " + ensureParens(s), nil

	case *parser.Paren:
		s, err := c.compileExpr(n.X, anchor)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil

	case *parser.Comparison:
		return c.compileComparison(n, anchor)

	case *parser.FunctionCall:
		return c.compileFunctionCall(n, anchor)

	default:
		return "", errAt(e.Position(), "unsupported expression node %T", e)
	}
}

// compileComparison handles both a plain `field <op> value` comparison and
// the `$path <op> value` match_object_meta form — the grammar produces the
// same Comparison node for either, distinguished by the type of Left.
func (c *compiler) compileComparison(cmp *parser.Comparison, anchor string) (string, error) {
	switch left := cmp.Left.(type) {
	case *parser.FieldRef:
		return c.compileFieldComparison(left, cmp.Op, cmp.Right, anchor)
	case *parser.JSONPath:
		return c.compileObjectMetaComparison(left, cmp.Op, cmp.Right, anchor)
	default:
		return "", errAt(cmp.Pos, "unsupported comparison of %T", left)
	}
}

func (c *compiler) compileFieldComparison(f *parser.FieldRef, op parser.CompareOp, rhs parser.Operand, anchor string) (string, error) {
	if !objectColumns[f.Name] {
		return "", errAt(f.Pos, "unknown field %q", f.Name)
	}
	lit, ok := c.resolveOperand(rhs).(*parser.Literal)
	if !ok {
		return "", errAt(f.Pos, "field comparisons require a literal value")
	}
	val, err := literalSQL(lit)
	if err != nil {
		return "", err
	}
	sqlOp, err := comparisonSQLOp(op)
	if err != nil {
		return "", errAt(f.Pos, "%v", err)
	}
	return fmt.Sprintf("%s.%s%s%s", anchor, f.Name, sqlOp, val), nil
}

// ensureParens wraps s in parens unless it's already a single balanced
// parenthesised unit (e.g. match_object_meta's self-contained "(ex AND nn)"),
// so Not doesn't add a redundant second layer on top of a callee's own wrap.
func ensureParens(s string) string {
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		depth := 0
		for i, r := range s {
			switch r {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 && i != len(s)-1 {
					return "(" + s + ")"
				}
			}
		}
		return s
	}
	return "(" + s + ")"
}

// literalSQL renders a plain (non-JSON-path) literal for direct embedding in
// SQL: bare numbers/booleans, single-quoted strings.
func literalSQL(lit *parser.Literal) (string, error) {
	switch {
	case lit.Bool != nil:
		if *lit.Bool {
			return "true", nil
		}
		return "false", nil
	case lit.Int != nil:
		return fmt.Sprintf("%d", *lit.Int), nil
	case lit.Str != nil:
		return sqlStringLiteral(*lit.Str), nil
	default:
		return "", errAt(lit.Pos, "literal has no comparable value")
	}
}
