// Package placeholder translates the universal "@pN" / "?" bind
// notation into each network backend's native form, using direct
// string scanning rather than a parser-generator dependency — nothing
// here is big enough to justify pulling in a SQL parser.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sqlbridge/sqlbridge/internal/value"
)

// atPPattern matches "@p" followed by one or more digits. Using a
// single regexp pass (rather than sequential string.Replace calls per
// index) means "$1" can never accidentally match inside "$10" — the
// regex engine already consumes the full run of digits per match, so
// descending-index substitution falls out of the tokenization for
// free.
var atPPattern = regexp.MustCompile(`@p(\d+)`)

// dollarPattern matches PostgreSQL's native "$N" placeholder.
var dollarPattern = regexp.MustCompile(`\$(\d+)`)

// questionMark matches a single literal placeholder.
const questionMark = '?'

// LiteralRenderer renders a bound Value as an engine-native SQL literal
// (e.g. quoted/escaped string, TRUE/FALSE, hex blob).
type LiteralRenderer func(v value.Value) (string, error)

// ToDollar rewrites "@pN" into PostgreSQL's native "$N" placeholder,
// leaving any "$N" already present untouched. The subsequent literal
// substitution that turns "$N" into an actual value is performed by
// RenderDollar.
func ToDollar(sql string) string {
	return atPPattern.ReplaceAllString(sql, "$$$1")
}

// RenderDollar performs the literal-substitution pass for PostgreSQL:
// every "$N" in sql is replaced by the rendered literal for binds[N-1].
func RenderDollar(sql string, binds []value.Value, render LiteralRenderer) (string, error) {
	var renderErr error
	out := dollarPattern.ReplaceAllStringFunc(sql, func(tok string) string {
		if renderErr != nil {
			return tok
		}
		n, err := strconv.Atoi(tok[1:])
		if err != nil || n < 1 || n > len(binds) {
			renderErr = fmt.Errorf("placeholder rewriter: %s has no matching bind", tok)
			return tok
		}
		lit, err := render(binds[n-1])
		if err != nil {
			renderErr = err
			return tok
		}
		return lit
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

// RenderMySQL performs the MySQL rewrite: every "@pN" is replaced with
// the rendered literal for binds[N-1] (descending-safe via regex, see
// atPPattern), then any remaining "?" placeholders are substituted
// left-to-right using whichever binds were not already consumed by an
// "@pN" reference.
func RenderMySQL(sql string, binds []value.Value, render LiteralRenderer) (string, error) {
	consumed := make([]bool, len(binds))

	var renderErr error
	afterAtP := atPPattern.ReplaceAllStringFunc(sql, func(tok string) string {
		if renderErr != nil {
			return tok
		}
		n, err := strconv.Atoi(tok[2:])
		if err != nil || n < 1 || n > len(binds) {
			renderErr = fmt.Errorf("placeholder rewriter: %s has no matching bind", tok)
			return tok
		}
		consumed[n-1] = true
		lit, err := render(binds[n-1])
		if err != nil {
			renderErr = err
			return tok
		}
		return lit
	})
	if renderErr != nil {
		return "", renderErr
	}

	var remaining []value.Value
	for i, c := range consumed {
		if !c {
			remaining = append(remaining, binds[i])
		}
	}

	var b strings.Builder
	idx := 0
	for i := 0; i < len(afterAtP); i++ {
		c := afterAtP[i]
		if c != questionMark || inQuotedLiteral(afterAtP, i) {
			b.WriteByte(c)
			continue
		}
		if idx >= len(remaining) {
			return "", fmt.Errorf("placeholder rewriter: not enough binds for '?' at position %d", idx+1)
		}
		lit, err := render(remaining[idx])
		if err != nil {
			return "", err
		}
		b.WriteString(lit)
		idx++
	}
	return b.String(), nil
}

// inQuotedLiteral reports whether byte index i of s falls inside a
// single-quoted SQL string literal, so a literal '?' character inside
// a string is never mistaken for a placeholder.
func inQuotedLiteral(s string, i int) bool {
	inQuote := false
	for j := 0; j < i; j++ {
		if s[j] == '\'' {
			if j+1 < len(s) && s[j+1] == '\'' {
				j++ // escaped quote, skip both
				continue
			}
			inQuote = !inQuote
		}
	}
	return inQuote
}

// ToNamedAscending rewrites MySQL/ODBC-style "?" placeholders into TDS
// "@pN" parameter names, ascending left to right, and returns the
// ordered list of generated names alongside the rewritten SQL. Nothing
// in this module calls it: TDS statements with binds are sent with the
// binds rendered as inline literals, not through sp_executesql.
func ToNamedAscending(sql string, bindCount int) (rewritten string, names []string) {
	var b strings.Builder
	n := 0
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c != questionMark || inQuotedLiteral(sql, i) {
			b.WriteByte(c)
			continue
		}
		n++
		name := fmt.Sprintf("@p%d", n)
		names = append(names, name)
		b.WriteString(name)
	}
	return b.String(), names
}
