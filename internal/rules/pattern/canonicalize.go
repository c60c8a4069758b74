// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pattern implements the Pattern Registry (spec §4.3): translating
// a user-supplied hex-with-wildcards or ASCII-string pattern into a
// canonical byte-level form, a deterministic registry name, and a rendered
// signature line for the external matcher.
package pattern

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/rules/parser"
)

// defaultAnchor is used when the input carries no explicit anchor prefix.
const defaultAnchor = "*"

var eofAnchorRe = regexp.MustCompile(`^EOF-[0-9]+:`)

// allowedBodyChars is the character set the hex-wildcards pattern grammar of
// spec §6 is built from: lowercase hex digits, '?' wildcards, '{-N}' skip
// groups, '(aa|bb)' alternation, '[aa-bb]' ranges.
var allowedBodyChars = regexp.MustCompile(`^[0-9a-f?{}\-()|\[\]]+$`)

// CanonicalizeError reports a malformed pattern literal (spec §7 "invalid
// literal (malformed hex pattern)").
type CanonicalizeError struct {
	Input string
	Msg   string
}

func (e *CanonicalizeError) Error() string {
	return fmt.Sprintf("malformed pattern %q: %s", e.Input, e.Msg)
}

// Canonicalize parses raw (the text captured from a match_pattern(...) call
// or a pattern(...) literal wrapper) into an anchor and a normalised body.
// Two inputs that canonicalise to the same (anchor, body) pair are
// guaranteed the same registry name (spec §8: "∀ pattern input P1, P2 with
// identical canonical form, register(P1).name == register(P2).name").
func Canonicalize(raw string) (anchor string, body string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", &CanonicalizeError{Input: raw, Msg: "empty pattern"}
	}

	anchor, rest := splitAnchor(raw)

	if strings.HasPrefix(rest, `r"`) {
		s, err := parser.ParseConstantString(rest[1:])
		if err != nil {
			return "", "", &CanonicalizeError{Input: raw, Msg: "invalid r\"...\" string: " + err.Error()}
		}
		return anchor, hex.EncodeToString([]byte(s)), nil
	}

	body, err = normalizeHexBody(rest)
	if err != nil {
		return "", "", &CanonicalizeError{Input: raw, Msg: err.Error()}
	}
	return anchor, body, nil
}

// splitAnchor strips a leading "*:" or "EOF-N:" anchor, defaulting to "*"
// when none is present.
func splitAnchor(raw string) (anchor, rest string) {
	if strings.HasPrefix(raw, "*:") {
		return "*", raw[2:]
	}
	if loc := eofAnchorRe.FindString(raw); loc != "" {
		return strings.TrimSuffix(loc, ":"), raw[len(loc):]
	}
	return defaultAnchor, raw
}

// normalizeHexBody lowercases hex digits and validates the result against
// the pattern grammar's character set and paren/bracket/brace balance. It
// does not fully validate grammar correctness (e.g. that a range's bounds
// are each exactly one byte) — the external matcher rejects what slips
// through, the same way a malformed regex is caught by the regex engine
// rather than by a hand-rolled pre-check.
func normalizeHexBody(body string) (string, error) {
	body = strings.ToLower(body)
	if !allowedBodyChars.MatchString(body) {
		return "", fmt.Errorf("contains characters outside the pattern grammar")
	}

	var stack []byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch c {
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return "", fmt.Errorf("unbalanced %q at byte %d", c, i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return "", fmt.Errorf("unbalanced grouping, %d still open", len(stack))
	}
	return body, nil
}
