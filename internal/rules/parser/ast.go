// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package parser tokenises and parses the rule grammar of spec §4.1/§6 into
// an AST the Rule Compiler (internal/rules/compiler) can lower to SQL.
package parser

import (
	"fmt"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// Pos is a 1-based line/column source position, attached to every AST node
// so compile errors can be reported the way spec §4.1 requires ("a parse
// tree or a positioned error").
type Pos struct {
	Line, Column int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Column) }

// VarAssign is one `${name} = <literal>;` binding.
type VarAssign struct {
	Pos     Pos
	Name    string
	Literal *Literal
}

// Rule is the top-level "rule" production: zero or more variable
// assignments followed by a boolean expression.
type Rule struct {
	Assignments []*VarAssign
	Expr        Expr
}

// Expr is any boolean-valued AST node: Or, And, Not, Paren, Comparison, or FunctionCall.
type Expr interface {
	exprNode()
	Position() Pos
}

type Or struct {
	Pos   Pos
	Terms []Expr
}

type And struct {
	Pos   Pos
	Terms []Expr
}

type Not struct {
	Pos Pos
	X   Expr
}

// Paren records that source parenthesised X, so the compiler can preserve
// the parenthesisation in its output exactly as spec §4.2 requires.
type Paren struct {
	Pos Pos
	X   Expr
}

type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (o CompareOp) String() string {
	return [...]string{"==", "!=", "<", "<=", ">", ">="}[o]
}

// Comparison is `<operand> <op> <operand>`.
type Comparison struct {
	Pos   Pos
	Left  Operand
	Op    CompareOp
	Right Operand
}

// FunctionCall is `@name(args...)`, one of the closed set in spec §4.2.
type FunctionCall struct {
	Pos  Pos
	Name string
	Args []Operand
}

func (*Or) exprNode()           {}
func (*And) exprNode()          {}
func (*Not) exprNode()          {}
func (*Paren) exprNode()        {}
func (*Comparison) exprNode()   {}
func (*FunctionCall) exprNode() {}

// Or, And, Not, Paren and Comparison also satisfy Operand: function arguments like
// @has_child(<subexpr>) and @match_object_meta($path <op> value) take a
// boolean expression or a comparison where other functions take a plain
// value, and the grammar doesn't distinguish the two lexically.
func (*Or) operandNode()         {}
func (*And) operandNode()        {}
func (*Not) operandNode()        {}
func (*Paren) operandNode()      {}
func (*Comparison) operandNode() {}

func (n *Or) Position() Pos           { return n.Pos }
func (n *And) Position() Pos          { return n.Pos }
func (n *Not) Position() Pos          { return n.Pos }
func (n *Paren) Position() Pos        { return n.Pos }
func (n *Comparison) Position() Pos   { return n.Pos }
func (n *FunctionCall) Position() Pos { return n.Pos }

// Operand is anything usable on either side of a Comparison or as a
// function argument: a literal, a variable reference, a field reference
// (bare identifier like "size"), a JSON path, or a nested function call
// (e.g. `@has_child(...)` used as a boolean operand).
type Operand interface {
	operandNode()
	Position() Pos
}

// FieldRef is a bare identifier referring to a column of the anchor object
// (e.g. "size"), per spec.md example 3.
type FieldRef struct {
	Pos  Pos
	Name string
}

// VarRef is `${name}`.
type VarRef struct {
	Pos  Pos
	Name string
}

// JSONPath is `$a.b[0].c`, optionally followed by a `.len()` method call or
// a `?` boolean-subexpression filter (spec §4.2 @match_object_meta forms).
type JSONPath struct {
	Pos Pos
	// Root is the identifier immediately after "$", e.g. "a" in "$a.b[0].c".
	Root     string
	Segments []PathSegment
	// Len records a trailing ".len()".
	Len bool
	// Filter records a trailing "? (boolean-subexpression)"; nil if absent.
	Filter Expr
}

// PathSegment is either a field name (".b") or an array index ("[0]").
type PathSegment struct {
	Field string
	Index *int
}

type Literal struct {
	Pos Pos

	Bool     *bool
	Int      *int64
	Str      *string
	StrMod   schema.StringMod
	Pattern  *string // raw pattern source, before canonicalisation
	Datetime *string // raw "YYYY-MM-DD[ HH:MM:SS]" source
}

func (l *Literal) Type() schema.VarType {
	switch {
	case l.Bool != nil:
		return schema.VarBool
	case l.Int != nil:
		return schema.VarInteger
	case l.Pattern != nil:
		return schema.VarPattern
	case l.Datetime != nil:
		return schema.VarDatetime
	default:
		return schema.VarString
	}
}

// StringMatch wraps a regex/iregex/starts_with modifier around an operand
// that couldn't be resolved to a plain string literal at parse time (a
// variable reference). Where the wrapped operand is already a literal,
// parseIdentOperand attaches the modifier to it directly instead of
// allocating one of these (see applyStringMod).
type StringMatch struct {
	Pos   Pos
	Mod   schema.StringMod
	Value Operand
}

func (*FieldRef) operandNode()     {}
func (*VarRef) operandNode()       {}
func (*JSONPath) operandNode()     {}
func (*Literal) operandNode()      {}
func (*FunctionCall) operandNode() {}
func (*StringMatch) operandNode()  {}

func (n *FieldRef) Position() Pos    { return n.Pos }
func (n *VarRef) Position() Pos      { return n.Pos }
func (n *JSONPath) Position() Pos    { return n.Pos }
func (n *Literal) Position() Pos     { return n.Pos }
func (n *StringMatch) Position() Pos { return n.Pos }
