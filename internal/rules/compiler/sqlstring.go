// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package compiler

import "strings"

// sqlStringLiteral renders s as a safely-quoted Postgres string literal.
// Plain '...' quoting doubles embedded single quotes; a literal backslash
// forces the E'...' extended form with backslashes doubled, matching the
// escaping a hand-rolled constant-string compiler in this family produces
// (see DESIGN.md: grounded on original_source's constant_string fixtures).
func sqlStringLiteral(s string) string {
	if strings.ContainsRune(s, '\\') {
		var b strings.Builder
		b.WriteString(" E'")
		for _, r := range s {
			switch r {
			case '\\':
				b.WriteString(`\\`)
			case '\'':
				b.WriteString("''")
			default:
				b.WriteRune(r)
			}
		}
		b.WriteByte('\'')
		return b.String()
	}

	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' {
			b.WriteString("''")
		} else {
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// likePattern escapes % and _ in s and appends a trailing wildcard, for
// compiling a starts_with(...) string modifier to a LIKE prefix test.
func likePattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return sqlStringLiteral(r.Replace(prefix) + "%")
}

// jsonPathStringLiteral renders s as a double-quoted string inside a
// Postgres jsonpath expression (spec §4.2: "emitted inside the path
// expression with their own escaping... never by string interpolation into
// arbitrary SQL"). Grounded on original_source's jsonpath fixtures, e.g.
// `@match_object_meta($x == "a'b_\n_z")` rendering the value as
// `"a''b_\n_z"` inside the path string — the single quote is doubled
// because the whole path is itself wrapped in a SQL '...' literal, while
// \n stays a literal backslash-n escape understood by jsonpath itself.
func jsonPathStringLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\'':
			b.WriteString("''")
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
