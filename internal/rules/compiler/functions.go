// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package compiler

import (
	"fmt"
	"time"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/parser"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// compileFunctionCall dispatches a @function(...) call to its lowering
// (spec §4.2's closed function set).
func (c *compiler) compileFunctionCall(fc *parser.FunctionCall, anchor string) (string, error) {
	switch fc.Name {
	case "has_symbol":
		return c.compileHasSymbol(fc, anchor)
	case "has_name":
		return c.compileHasName(fc, anchor)
	case "has_error":
		return c.compileHasError(fc, anchor)
	case "has_object_meta":
		return c.compileHasObjectMeta(fc, anchor)
	case "match_object_meta":
		return c.compileMatchObjectMeta(fc, anchor)
	case "match_pattern":
		return c.compileMatchPattern(fc, anchor)
	case "has_child":
		return c.compileHasChild(fc, anchor)
	case "date_since":
		return c.compileDateSince(fc, anchor)
	case "date_range":
		return c.compileDateRange(fc, anchor)
	default:
		return "", errAt(fc.Pos, "unknown function @%s", fc.Name)
	}
}

// compileTextPredicate renders a plain/regex/iregex/starts_with comparison
// against a scalar text-valued target (has_name, has_error).
func compileTextPredicate(target, value string, mod schema.StringMod) string {
	switch mod {
	case schema.StringRegex:
		return fmt.Sprintf("%s ~ %s", target, sqlStringLiteral(value))
	case schema.StringIRegex:
		return fmt.Sprintf("%s ~* %s", target, sqlStringLiteral(value))
	case schema.StringPrefix:
		return fmt.Sprintf("%s LIKE %s", target, likePattern(value))
	default:
		return fmt.Sprintf("%s = %s", target, sqlStringLiteral(value))
	}
}

// compileSymbolSetPredicate renders a plain/regex/iregex/starts_with test
// against a jsonb array-of-strings target (has_symbol).
func compileSymbolSetPredicate(target, value string, mod schema.StringMod) string {
	switch mod {
	case schema.StringRegex:
		return fmt.Sprintf(`%s @? '$[*] ? (@ like_regex %s)'`, target, jsonPathStringLiteral(value))
	case schema.StringIRegex:
		return fmt.Sprintf(`%s @? '$[*] ? (@ like_regex %s flag "i")'`, target, jsonPathStringLiteral(value))
	case schema.StringPrefix:
		return fmt.Sprintf(`%s @? '$[*] ? (@ starts with %s)'`, target, jsonPathStringLiteral(value))
	default:
		return fmt.Sprintf(`%s ? %s`, target, sqlStringLiteral(value))
	}
}

// compileHasSymbol matches against the object's registered symbol set
// (spec §4.2). Grounded directly on original_source's match_pattern
// fixtures for the quoted-"result" jsonb-key-exists idiom; the
// regex/iregex/starts_with variants extend that idiom to a jsonb_path_query
// set-membership test since `?` can't express a pattern match.
func (c *compiler) compileHasSymbol(fc *parser.FunctionCall, anchor string) (string, error) {
	if len(fc.Args) != 1 {
		return "", errAt(fc.Pos, "@has_symbol takes exactly one argument")
	}
	s, mod, err := c.stringArg(fc.Args[0])
	if err != nil {
		return "", err
	}
	return compileSymbolSetPredicate(anchor+`."result"->'ok'->'symbols'`, s, mod), nil
}

// compileHasName matches against the name this object carries in its
// parent relation (spec §4.2 "relation name"). objects(id, ...) has no name
// column of its own — a name is a property of the edge into this object, so
// it's read via a correlated lookup against rels.props (spec §4.8's
// abstract schema: rels(parent, child, props)).
func (c *compiler) compileHasName(fc *parser.FunctionCall, anchor string) (string, error) {
	if len(fc.Args) != 1 {
		return "", errAt(fc.Pos, "@has_name takes exactly one argument")
	}
	s, mod, err := c.stringArg(fc.Args[0])
	if err != nil {
		return "", err
	}
	target := fmt.Sprintf("(SELECT props->>'name' FROM rels WHERE child = %s.id)", anchor)
	return compileTextPredicate(target, s, mod), nil
}

// compileHasError matches against the object's error string when its
// result is an error-tagged tree (spec §4.8's ok-or-error `result` shape).
func (c *compiler) compileHasError(fc *parser.FunctionCall, anchor string) (string, error) {
	if len(fc.Args) != 1 {
		return "", errAt(fc.Pos, "@has_error takes exactly one argument")
	}
	s, mod, err := c.stringArg(fc.Args[0])
	if err != nil {
		return "", err
	}
	return compileTextPredicate(anchor+".result->>'error'", s, mod), nil
}

func (c *compiler) compileHasObjectMeta(fc *parser.FunctionCall, anchor string) (string, error) {
	if len(fc.Args) != 1 {
		return "", errAt(fc.Pos, "@has_object_meta takes exactly one argument")
	}
	path, ok := fc.Args[0].(*parser.JSONPath)
	if !ok {
		return "", errAt(fc.Pos, "@has_object_meta requires a $path argument")
	}
	dotted := renderPath(path.Root, path.Segments)
	existence := fmt.Sprintf(`%s.result @? '$.ok.object_metadata.%s'`, anchor, dotted)
	notnull := fmt.Sprintf(`%s.result->'ok'->'object_metadata' @? '$.%s ? (@!=null)'`, anchor, dotted)
	return fmt.Sprintf("(%s AND %s)", existence, notnull), nil
}

func (c *compiler) compileMatchObjectMeta(fc *parser.FunctionCall, anchor string) (string, error) {
	if len(fc.Args) != 1 {
		return "", errAt(fc.Pos, "@match_object_meta takes exactly one argument")
	}
	switch arg := fc.Args[0].(type) {
	case *parser.Comparison:
		path, ok := arg.Left.(*parser.JSONPath)
		if !ok {
			return "", errAt(arg.Pos, "@match_object_meta requires a $path on the left of the comparison")
		}
		return c.compileObjectMetaComparison(path, arg.Op, arg.Right, anchor)

	case *parser.JSONPath:
		if arg.Filter == nil {
			return "", errAt(arg.Pos, "@match_object_meta requires a comparison or a ? (filter)")
		}
		return c.compileObjectMetaFilter(arg, anchor)

	default:
		return "", errAt(fc.Pos, "@match_object_meta requires a $path comparison or filter")
	}
}

// compileMatchPattern registers the pattern argument with the compile's
// pattern.Registry and emits the symbol-presence test (spec §4.2, §4.3,
// byte-exact on original_source's test_clam_signatures fixtures).
func (c *compiler) compileMatchPattern(fc *parser.FunctionCall, anchor string) (string, error) {
	if len(fc.Args) != 1 {
		return "", errAt(fc.Pos, "@match_pattern takes exactly one argument")
	}
	resolved := c.resolveOperand(fc.Args[0])
	lit, ok := resolved.(*parser.Literal)
	if !ok || lit.Pattern == nil {
		return "", errAt(fc.Pos, "@match_pattern requires a pattern literal")
	}
	p, err := c.registry.Register(*lit.Pattern)
	if err != nil {
		return "", errAt(fc.Pos, "malformed pattern: %v", err)
	}
	return fmt.Sprintf(`%s."result"->'ok'->'symbols'?%s`, anchor, sqlStringLiteral(p.Name)), nil
}

// compileHasChild lowers @has_child(<subexpr>) to a correlated EXISTS over
// objects/rels, recursing into the subexpression with a fresh anchor alias
// (spec §4.2, byte-exact on original_source's nested-has_child fixture).
// Forbidden in a scenario-global rule: there is no single "parent" row a
// scenario-global WITH-anchor-and-neighbor query is evaluating a child
// relationship against (spec §4.2's query-type-forbidden-construct category).
func (c *compiler) compileHasChild(fc *parser.FunctionCall, anchor string) (string, error) {
	if c.qtype == schema.QueryScenarioGlobal {
		return "", errAt(fc.Pos, "@has_child is not permitted in a scenario-global rule")
	}
	if len(fc.Args) != 1 {
		return "", errAt(fc.Pos, "@has_child takes exactly one argument")
	}
	sub, ok := fc.Args[0].(parser.Expr)
	if !ok {
		return "", errAt(fc.Pos, "@has_child requires a boolean subexpression")
	}

	c.depth++
	childAnchor := fmt.Sprintf(`"objects_%d"`, c.depth)
	body, err := c.compileExpr(sub, childAnchor)
	c.depth--
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`exists(SELECT 1 FROM objects AS %s WHERE %s.work_id = %s.work_id AND id IN (SELECT child FROM rels WHERE parent = %s."id") AND (%s))`,
		childAnchor, childAnchor, anchor, anchor, body,
	), nil
}

// dateArg resolves a @date_since/@date_range argument to its raw date text:
// a plain string literal, or a variable bound to a datetime(...) literal
// (spec §4.2, §6; see DESIGN.md Open Question on datetime(...) scoping).
func (c *compiler) dateArg(op parser.Operand) (string, error) {
	resolved := c.resolveOperand(op)
	lit, ok := resolved.(*parser.Literal)
	if !ok {
		return "", errAt(op.Position(), "expected a date literal")
	}
	if lit.Datetime != nil {
		return *lit.Datetime, nil
	}
	if lit.Str != nil {
		return *lit.Str, nil
	}
	return "", errAt(op.Position(), "expected a date literal")
}

// dateLayout date-only; dateTimeLayout second-precision datetime (spec §6).
const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// parseDateOrDatetime calendar-validates s against both accepted layouts
// (spec §7's "invalid literal (malformed date)" failure category; spec §9:
// "2000-02-30" MUST fail, "2000-02-29" MUST succeed). Go's time.Parse
// itself rejects out-of-range calendar dates for a given layout, so no
// separate calendar check is needed.
func parseDateOrDatetime(s string) (dateOnly bool, err error) {
	if _, err := time.Parse(dateLayout, s); err == nil {
		return true, nil
	}
	if _, err := time.Parse(dateTimeLayout, s); err == nil {
		return false, nil
	}
	return false, fmt.Errorf("not a valid %q or %q value", dateLayout, dateTimeLayout)
}

func (c *compiler) compileDateSince(fc *parser.FunctionCall, anchor string) (string, error) {
	if len(fc.Args) != 1 {
		return "", errAt(fc.Pos, "@date_since takes exactly one argument")
	}
	s, err := c.dateArg(fc.Args[0])
	if err != nil {
		return "", err
	}
	if _, err := parseDateOrDatetime(s); err != nil {
		return "", errAt(fc.Pos, "invalid date %q: %v", s, err)
	}
	return fmt.Sprintf("%s.t >= %s", anchor, sqlStringLiteral(s)), nil
}

// compileDateRange lowers @date_range(a, b) to a BETWEEN clause whose upper
// bound is b plus one calendar unit minus a microsecond, so the range is
// inclusive of the whole of day/second b (spec §4.2, byte-exact on
// original_source's date-range fixtures).
func (c *compiler) compileDateRange(fc *parser.FunctionCall, anchor string) (string, error) {
	if len(fc.Args) != 2 {
		return "", errAt(fc.Pos, "@date_range takes exactly two arguments")
	}
	a, err := c.dateArg(fc.Args[0])
	if err != nil {
		return "", err
	}
	b, err := c.dateArg(fc.Args[1])
	if err != nil {
		return "", err
	}
	aDateOnly, err := parseDateOrDatetime(a)
	if err != nil {
		return "", errAt(fc.Pos, "invalid date %q: %v", a, err)
	}
	bDateOnly, err := parseDateOrDatetime(b)
	if err != nil {
		return "", errAt(fc.Pos, "invalid date %q: %v", b, err)
	}
	if aDateOnly != bDateOnly {
		return "", errAt(fc.Pos, "@date_range arguments must both be dates or both be datetimes")
	}

	if aDateOnly {
		return fmt.Sprintf("%s.t BETWEEN %s AND (DATE %s+1-INTERVAL '1 microseconds')", anchor, sqlStringLiteral(a), sqlStringLiteral(b)), nil
	}
	return fmt.Sprintf("%s.t BETWEEN %s AND (DATE %s+INTERVAL '1 seconds'-INTERVAL '1 microseconds')", anchor, sqlStringLiteral(a), sqlStringLiteral(b)), nil
}
