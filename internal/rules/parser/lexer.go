// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// ruleLexer tokenises the rule grammar of spec §4.1/§6. We use participle's
// lexer standalone (not participle.Build/participle.Parser) and drive a
// hand-written recursive-descent parser over its token stream below: the
// grammar mixes context-sensitive bits (variable type binding, JSON-path
// terminal forms, `.len()`/`? (...)` suffixes) that are easier to get right
// as explicit Go control flow than as participle struct-tag productions.
var ruleLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(?s:/\*.*?\*/)|//[^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "VarRef", Pattern: `\$\{[A-Za-z_][A-Za-z0-9_]*\}`},
	{Name: "JSONPathRoot", Pattern: `\$[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Number", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Op", Pattern: `==|!=|<=|>=|&&|\|\|`},
	// The trailing |*- covers the pattern grammar's alternation, anchor and
	// range/skip syntax (spec §6) so a whole rule source always tokenises
	// even though match_pattern's argument is re-read as raw text, not
	// interpreted token-by-token (see tokenStream.readBalancedRaw).
	{Name: "Punct", Pattern: `[(){}\[\].,;:=<>!?@|*-]`},
})

var symbols = ruleLexer.Symbols()

func symbolName(t lexer.TokenType) string {
	for name, id := range symbols {
		if id == t {
			return name
		}
	}
	return "EOF"
}

// tokenStream filters Comment/Whitespace out of the raw participle lexer and
// provides 1-token lookahead for the recursive-descent parser.
type tokenStream struct {
	source string
	toks   []lexer.Token
	pos    int
}

func newTokenStream(source string) (*tokenStream, error) {
	lex, err := ruleLexer.Lex("", strings.NewReader(source))
	if err != nil {
		return nil, err
	}
	var toks []lexer.Token
	for {
		tok, err := lex.Next()
		if err != nil {
			return nil, err
		}
		if tok.EOF() {
			toks = append(toks, tok)
			break
		}
		switch symbolName(tok.Type) {
		case "Comment", "Whitespace":
			continue
		}
		toks = append(toks, tok)
	}
	return &tokenStream{source: source, toks: toks}, nil
}

func (s *tokenStream) peek() lexer.Token  { return s.toks[s.pos] }
func (s *tokenStream) peekN(n int) lexer.Token {
	if s.pos+n >= len(s.toks) {
		return s.toks[len(s.toks)-1]
	}
	return s.toks[s.pos+n]
}

func (s *tokenStream) next() lexer.Token {
	t := s.toks[s.pos]
	if s.pos < len(s.toks)-1 {
		s.pos++
	}
	return t
}

func (s *tokenStream) atEOF() bool { return s.peek().EOF() }

// readBalancedRaw consumes tokens up to and including the ")" that closes
// the call whose "(" was already consumed by the caller, and returns the
// raw source text in between. Used for the pattern grammar (spec §6), whose
// syntax (wildcards, alternation, ranges, anchors) isn't expressible in the
// rule-level token set above.
func (s *tokenStream) readBalancedRaw() (string, error) {
	depth := 1
	start := s.peek().Pos.Offset
	for {
		t := s.peek()
		if t.EOF() {
			return "", &ParseError{Pos: s.posOf(t), Msg: "unterminated pattern argument"}
		}
		if symbolName(t.Type) == "Punct" {
			switch t.Value {
			case "(":
				depth++
			case ")":
				depth--
				if depth == 0 {
					end := t.Pos.Offset
					s.next()
					return strings.TrimSpace(s.source[start:end]), nil
				}
			}
		}
		s.next()
	}
}

func (s *tokenStream) posOf(t lexer.Token) Pos {
	return Pos{Line: t.Pos.Line, Column: t.Pos.Column}
}

func (s *tokenStream) is(kind string, value string) bool {
	t := s.peek()
	if t.EOF() {
		return false
	}
	return symbolName(t.Type) == kind && (value == "" || t.Value == value)
}

func (s *tokenStream) expect(kind string, value string) (lexer.Token, error) {
	if !s.is(kind, value) {
		t := s.peek()
		return t, &ParseError{Pos: s.posOf(t), Msg: fmt.Sprintf("expected %s %q, got %s %q", kind, value, symbolName(t.Type), t.Value)}
	}
	return s.next(), nil
}

// ParseError is a positioned grammar error, per spec §4.1 ("a parse tree or
// a positioned error").
type ParseError struct {
	Pos Pos
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// unquoteString decodes the escapes allowed in constant_string literals:
// \" \\ \/ \n \r \t \uXXXX (spec §4.1).
func unquoteString(raw string) (string, error) {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", fmt.Errorf("malformed string literal %q", raw)
	}
	body := raw[1 : len(raw)-1]
	var out strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			out.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", fmt.Errorf("dangling escape in string literal")
		}
		switch body[i] {
		case '"':
			out.WriteByte('"')
		case '\\':
			out.WriteByte('\\')
		case '/':
			out.WriteByte('/')
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case 'u':
			if i+4 >= len(body) {
				return "", fmt.Errorf("truncated \\u escape")
			}
			var r rune
			if _, err := fmt.Sscanf(body[i+1:i+5], "%04x", &r); err != nil {
				return "", fmt.Errorf("invalid \\u escape: %w", err)
			}
			out.WriteRune(r)
			i += 4
		default:
			return "", fmt.Errorf("unknown escape \\%c", body[i])
		}
	}
	return out.String(), nil
}
