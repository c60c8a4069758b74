// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"strconv"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// state is the parser's mutable context: the token stream and the variable
// symbol table built up as assignments are consumed (spec §4.1: "Variables
// bind in textual order").
//
// Full type-position checking (e.g. that a variable substituted for a field
// comparison matches that field's schema type) needs field-schema knowledge
// the grammar itself doesn't have; state only enforces the two purely
// syntactic rules spec §4.1 assigns to parsing: no use-before-assignment and
// no reassignment. The Rule Compiler rejects a literal of the wrong kind
// where a function argument needs a specific one; field comparisons accept
// a literal of any kind.
type state struct {
	ts       *tokenStream
	assigned map[string]schema.VarType
	order    []string
}

// Parse parses the "rule" production: zero or more variable assignments
// followed by a boolean expression (spec §6 EBNF).
func Parse(source string) (*Rule, error) {
	ts, err := newTokenStream(source)
	if err != nil {
		return nil, err
	}
	p := &state{ts: ts, assigned: map[string]schema.VarType{}}

	var assigns []*VarAssign
	for p.ts.is("VarRef", "") && p.ts.peekN(1).Value == "=" {
		a, err := p.parseVarAssign()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, a)
	}

	expr, err := p.parseOrExpr()
	if err != nil {
		return nil, err
	}
	if !p.ts.atEOF() {
		t := p.ts.peek()
		return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "unexpected trailing input " + t.Value}
	}
	return &Rule{Assignments: assigns, Expr: expr}, nil
}

// ParseFunction parses the "functions" production: source must be a single
// function call and nothing else.
func ParseFunction(source string) (*FunctionCall, error) {
	ts, err := newTokenStream(source)
	if err != nil {
		return nil, err
	}
	p := &state{ts: ts, assigned: map[string]schema.VarType{}}
	fc, err := p.parseFunctionCall()
	if err != nil {
		return nil, err
	}
	if !p.ts.atEOF() {
		t := p.ts.peek()
		return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "unexpected trailing input " + t.Value}
	}
	return fc, nil
}

// ParseConstantString parses the "constant_string" production: a quoted
// literal with the escapes \" \\ \/ \n \r \t \uXXXX (spec §6).
func ParseConstantString(source string) (string, error) {
	ts, err := newTokenStream(source)
	if err != nil {
		return "", err
	}
	if !ts.is("String", "") {
		t := ts.peek()
		return "", &ParseError{Pos: ts.posOf(t), Msg: "expected a quoted string"}
	}
	tok := ts.next()
	if !ts.atEOF() {
		t := ts.peek()
		return "", &ParseError{Pos: ts.posOf(t), Msg: "unexpected trailing input " + t.Value}
	}
	return unquoteString(tok.Value)
}

func (p *state) parseVarAssign() (*VarAssign, error) {
	tok, err := p.ts.expect("VarRef", "")
	if err != nil {
		return nil, err
	}
	pos := p.ts.posOf(tok)
	name := tok.Value[2 : len(tok.Value)-1] // strip "${" "}"

	if _, err := p.ts.expect("Punct", "="); err != nil {
		return nil, err
	}

	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}

	if _, err := p.ts.expect("Punct", ";"); err != nil {
		return nil, err
	}

	if _, reassigned := p.assigned[name]; reassigned {
		return nil, &ParseError{Pos: pos, Msg: "variable ${" + name + "} reassigned"}
	}
	p.assigned[name] = lit.Type()
	p.order = append(p.order, name)

	return &VarAssign{Pos: pos, Name: name, Literal: lit}, nil
}

// parseOrExpr, parseAndExpr and parseNotExpr implement the or_expr/and_expr/
// not_expr productions of spec §6's EBNF.
func (p *state) parseOrExpr() (Expr, error) {
	pos := p.ts.posOf(p.ts.peek())
	first, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.ts.is("Op", "||") {
		p.ts.next()
		t, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &Or{Pos: pos, Terms: terms}, nil
}

func (p *state) parseAndExpr() (Expr, error) {
	pos := p.ts.posOf(p.ts.peek())
	first, err := p.parseNotExpr()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.ts.is("Op", "&&") {
		p.ts.next()
		t, err := p.parseNotExpr()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &And{Pos: pos, Terms: terms}, nil
}

func (p *state) parseNotExpr() (Expr, error) {
	if p.ts.is("Punct", "!") {
		tok := p.ts.next()
		x, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Not{Pos: p.ts.posOf(tok), X: x}, nil
	}
	return p.parsePrimary()
}

// parsePrimary implements: primary := '(' expr ')' | function_call | comparison.
func (p *state) parsePrimary() (Expr, error) {
	t := p.ts.peek()
	switch {
	case t.EOF():
		return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "unexpected end of rule"}

	case p.ts.is("Punct", "("):
		open := p.ts.next()
		x, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.ts.expect("Punct", ")"); err != nil {
			return nil, err
		}
		return &Paren{Pos: p.ts.posOf(open), X: x}, nil

	case p.ts.is("Punct", "@"):
		return p.parseFunctionCall()
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	cmp, ok, err := p.parseComparisonTail(left)
	if err != nil {
		return nil, err
	}
	if ok {
		return cmp, nil
	}
	// A bare field reference used on its own (e.g. "is_entry") is shorthand
	// for "is_entry==true" (original_source's test_comments exercises this).
	if fr, isField := left.(*FieldRef); isField {
		tru := true
		return &Comparison{Pos: fr.Pos, Left: fr, Op: OpEq, Right: &Literal{Pos: fr.Pos, Bool: &tru}}, nil
	}
	return nil, &ParseError{Pos: p.ts.posOf(p.ts.peek()), Msg: "expected a comparison operator"}
}

// parseComparisonTail parses the rest of a comparison given an
// already-parsed left operand. Besides the ordinary `<op> <operand>` form,
// a JSON path may be followed directly by a regex/iregex/starts_with
// modifier instead of an operator (`@match_object_meta($x regex("^x"))`) —
// this compiles the same way a $path == value comparison does, with the
// modifier standing in for "==" (spec §4.2, grounded on original_source's
// match_object_meta modifier fixtures).
func (p *state) parseComparisonTail(left Operand) (*Comparison, bool, error) {
	if _, isPath := left.(*JSONPath); isPath && p.ts.is("Ident", "") {
		switch p.ts.peek().Value {
		case "regex", "iregex", "starts_with":
			modTok := p.ts.next()
			v, err := p.parseModifierArg()
			if err != nil {
				return nil, false, err
			}
			right := applyStringMod(v, stringModOf(modTok.Value), p.ts.posOf(modTok))
			return &Comparison{Pos: left.Position(), Left: left, Op: OpEq, Right: right}, true, nil
		}
	}
	if op, ok := p.peekCompareOp(); ok {
		p.ts.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, false, err
		}
		return &Comparison{Pos: left.Position(), Left: left, Op: op, Right: right}, true, nil
	}
	return nil, false, nil
}

func stringModOf(ident string) schema.StringMod {
	switch ident {
	case "regex":
		return schema.StringRegex
	case "iregex":
		return schema.StringIRegex
	case "starts_with":
		return schema.StringPrefix
	default:
		return schema.StringPlain
	}
}

// applyStringMod attaches mod to v. When v is already a plain literal the
// modifier is folded directly into it (the common case, and what existing
// Literal-shaped call sites expect); when v is a variable reference whose
// bound value isn't known until compile time, it's wrapped in a StringMatch
// instead.
func applyStringMod(v Operand, mod schema.StringMod, pos Pos) Operand {
	if lit, ok := v.(*Literal); ok {
		lit.StrMod = mod
		return lit
	}
	return &StringMatch{Pos: pos, Mod: mod, Value: v}
}

// parseModifierArg parses the '(' string-or-variable ')' argument of a
// regex/iregex/starts_with modifier.
func (p *state) parseModifierArg() (Operand, error) {
	if _, err := p.ts.expect("Punct", "("); err != nil {
		return nil, err
	}
	var out Operand
	if p.ts.is("VarRef", "") {
		t := p.ts.next()
		name := t.Value[2 : len(t.Value)-1]
		if _, ok := p.assigned[name]; !ok {
			return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "variable ${" + name + "} referenced before assignment"}
		}
		out = &VarRef{Pos: p.ts.posOf(t), Name: name}
	} else {
		tok, err := p.ts.expect("String", "")
		if err != nil {
			return nil, err
		}
		s, err := unquoteString(tok.Value)
		if err != nil {
			return nil, &ParseError{Pos: p.ts.posOf(tok), Msg: err.Error()}
		}
		out = &Literal{Pos: p.ts.posOf(tok), Str: &s, StrMod: schema.StringPlain}
	}
	if _, err := p.ts.expect("Punct", ")"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *state) peekCompareOp() (CompareOp, bool) {
	t := p.ts.peek()
	if t.EOF() {
		return 0, false
	}
	switch symbolName(t.Type) {
	case "Op":
		switch t.Value {
		case "==":
			return OpEq, true
		case "!=":
			return OpNe, true
		case "<=":
			return OpLe, true
		case ">=":
			return OpGe, true
		}
	case "Punct":
		switch t.Value {
		case "<":
			return OpLt, true
		case ">":
			return OpGt, true
		}
	}
	return 0, false
}

// parseFunctionCall implements function := '@' ident '(' args? ')'.
// @match_pattern takes the pattern grammar of spec §6, which is read as raw
// text rather than tokenised as ordinary operands.
func (p *state) parseFunctionCall() (*FunctionCall, error) {
	at, err := p.ts.expect("Punct", "@")
	if err != nil {
		return nil, err
	}
	nameTok, err := p.ts.expect("Ident", "")
	if err != nil {
		return nil, err
	}
	if _, err := p.ts.expect("Punct", "("); err != nil {
		return nil, err
	}

	if nameTok.Value == "match_pattern" {
		if p.ts.is("VarRef", "") && p.ts.peekN(1).Value == ")" {
			t := p.ts.next()
			name := t.Value[2 : len(t.Value)-1]
			if _, ok := p.assigned[name]; !ok {
				return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "variable ${" + name + "} referenced before assignment"}
			}
			if _, err := p.ts.expect("Punct", ")"); err != nil {
				return nil, err
			}
			ref := &VarRef{Pos: p.ts.posOf(t), Name: name}
			return &FunctionCall{Pos: p.ts.posOf(at), Name: nameTok.Value, Args: []Operand{ref}}, nil
		}
		raw, err := p.ts.readBalancedRaw()
		if err != nil {
			return nil, err
		}
		lit := &Literal{Pos: p.ts.posOf(nameTok), Pattern: &raw}
		return &FunctionCall{Pos: p.ts.posOf(at), Name: nameTok.Value, Args: []Operand{lit}}, nil
	}

	var args []Operand
	if !p.ts.is("Punct", ")") {
		for {
			arg, err := p.parseArgValue()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.ts.is("Punct", ",") {
				p.ts.next()
				continue
			}
			break
		}
	}
	if _, err := p.ts.expect("Punct", ")"); err != nil {
		return nil, err
	}
	return &FunctionCall{Pos: p.ts.posOf(at), Name: nameTok.Value, Args: args}, nil
}

// parseArgValue parses one function argument. Unlike a top-level primary, a
// bare operand (without a trailing comparison) is a valid argument — e.g.
// @has_name(s), @date_since("..."), @date_range(a, b). @match_object_meta's
// $path <op> value and $path ? (filter) forms, and @has_child's boolean
// subexpression, are handled by the '@'/'!'/'(' branches and by JSONPath's
// own Filter field.
func (p *state) parseArgValue() (Operand, error) {
	switch {
	case p.ts.is("Punct", "@"):
		return p.parseFunctionCall()
	case p.ts.is("Punct", "!"), p.ts.is("Punct", "("):
		e, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		op, ok := e.(Operand)
		if !ok {
			return nil, &ParseError{Pos: e.Position(), Msg: "expression cannot be used as a function argument"}
		}
		return op, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	cmp, ok, err := p.parseComparisonTail(left)
	if err != nil {
		return nil, err
	}
	if ok {
		return cmp, nil
	}
	return left, nil
}

// parseOperand parses a literal, a variable reference, a JSON path, a bare
// field identifier, or a nested function call.
func (p *state) parseOperand() (Operand, error) {
	t := p.ts.peek()
	switch {
	case t.EOF():
		return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "unexpected end of rule"}

	case p.ts.is("Punct", "@"):
		return p.parseFunctionCall()

	case p.ts.is("VarRef", ""):
		p.ts.next()
		name := t.Value[2 : len(t.Value)-1]
		if _, ok := p.assigned[name]; !ok {
			return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "variable ${" + name + "} referenced before assignment"}
		}
		return &VarRef{Pos: p.ts.posOf(t), Name: name}, nil

	case p.ts.is("JSONPathRoot", ""):
		return p.parseJSONPath()

	case p.ts.is("String", ""):
		p.ts.next()
		s, err := unquoteString(t.Value)
		if err != nil {
			return nil, &ParseError{Pos: p.ts.posOf(t), Msg: err.Error()}
		}
		return &Literal{Pos: p.ts.posOf(t), Str: &s, StrMod: schema.StringPlain}, nil

	case p.ts.is("Number", ""):
		p.ts.next()
		n, err := strconv.ParseInt(t.Value, 10, 64)
		if err != nil {
			return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "invalid integer literal " + t.Value}
		}
		return &Literal{Pos: p.ts.posOf(t), Int: &n}, nil

	case p.ts.is("Ident", ""):
		return p.parseIdentOperand()
	}
	return nil, &ParseError{Pos: p.ts.posOf(t), Msg: "unexpected token " + t.Value}
}

// parseIdentOperand disambiguates the bare-identifier forms: boolean
// literals, the pattern(...)/datetime("...") typed literal wrappers, the
// regex("...")/iregex("...")/starts_with("...") string-modifier wrappers,
// and a plain field reference.
func (p *state) parseIdentOperand() (Operand, error) {
	tok := p.ts.next()
	pos := p.ts.posOf(tok)

	switch tok.Value {
	case "true", "false":
		b := tok.Value == "true"
		return &Literal{Pos: pos, Bool: &b}, nil

	case "pattern":
		if _, err := p.ts.expect("Punct", "("); err != nil {
			return nil, err
		}
		raw, err := p.ts.readBalancedRaw()
		if err != nil {
			return nil, err
		}
		return &Literal{Pos: pos, Pattern: &raw}, nil

	case "datetime":
		s, err := p.parseQuotedArg()
		if err != nil {
			return nil, err
		}
		return &Literal{Pos: pos, Datetime: &s}, nil

	case "regex", "iregex", "starts_with":
		v, err := p.parseModifierArg()
		if err != nil {
			return nil, err
		}
		return applyStringMod(v, stringModOf(tok.Value), pos), nil

	default:
		return &FieldRef{Pos: pos, Name: tok.Value}, nil
	}
}

// parseQuotedArg parses '(' String ')', used by the datetime literal wrapper.
func (p *state) parseQuotedArg() (string, error) {
	if _, err := p.ts.expect("Punct", "("); err != nil {
		return "", err
	}
	tok, err := p.ts.expect("String", "")
	if err != nil {
		return "", err
	}
	s, err := unquoteString(tok.Value)
	if err != nil {
		return "", &ParseError{Pos: p.ts.posOf(tok), Msg: err.Error()}
	}
	if _, err := p.ts.expect("Punct", ")"); err != nil {
		return "", err
	}
	return s, nil
}

// parseLiteral parses the right-hand side of a var_assign: any of the typed
// literal forms, but not a bare field identifier (a variable can't be
// assigned another field's value).
func (p *state) parseLiteral() (*Literal, error) {
	op, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	lit, ok := op.(*Literal)
	if !ok {
		return nil, &ParseError{Pos: op.Position(), Msg: "variable assignment requires a literal"}
	}
	return lit, nil
}

// parseJSONPath implements `$a.b[0].c`, an optional trailing `.len()`, and
// an optional trailing `? (boolean-subexpression)` filter (spec §4.2).
func (p *state) parseJSONPath() (*JSONPath, error) {
	root, err := p.ts.expect("JSONPathRoot", "")
	if err != nil {
		return nil, err
	}
	jp := &JSONPath{Pos: p.ts.posOf(root), Root: root.Value[1:]}

segments:
	for {
		switch {
		case p.ts.is("Punct", "."):
			// Lookahead for ".len()".
			if p.ts.peekN(1).Value == "len" && p.ts.peekN(2).Value == "(" && p.ts.peekN(3).Value == ")" {
				p.ts.next() // .
				p.ts.next() // len
				p.ts.next() // (
				p.ts.next() // )
				jp.Len = true
				continue
			}
			p.ts.next()
			field, err := p.ts.expect("Ident", "")
			if err != nil {
				return nil, err
			}
			jp.Segments = append(jp.Segments, PathSegment{Field: field.Value})

		case p.ts.is("Punct", "["):
			p.ts.next()
			idxTok, err := p.ts.expect("Number", "")
			if err != nil {
				return nil, err
			}
			idx, err := strconv.Atoi(idxTok.Value)
			if err != nil {
				return nil, &ParseError{Pos: p.ts.posOf(idxTok), Msg: "invalid array index " + idxTok.Value}
			}
			if _, err := p.ts.expect("Punct", "]"); err != nil {
				return nil, err
			}
			jp.Segments = append(jp.Segments, PathSegment{Index: &idx})

		default:
			break segments
		}
	}

	if p.ts.is("Punct", "?") {
		p.ts.next()
		if _, err := p.ts.expect("Punct", "("); err != nil {
			return nil, err
		}
		filter, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.ts.expect("Punct", ")"); err != nil {
			return nil, err
		}
		jp.Filter = filter
	}

	return jp, nil
}
