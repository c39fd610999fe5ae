// Package header normalizes spreadsheet column headers and resolves them
// to canonical field names through per-tab alias tables. Readers and
// writers reference fields by canonical name only; the alias table is
// the single place header variants are declared.
package header

import "strings"

// Normalize lowercases a header, trims surrounding whitespace, and
// collapses separators (spaces, dashes, slashes, dots) to underscores.
func Normalize(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '-', '/', '.', ':':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case '(', ')', '?', '*', '#':
			// Decorations dropped outright.
		default:
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}
	return strings.Trim(b.String(), "_")
}

// AliasMap declares, per canonical field name, the header variants that
// resolve to it. Variants are matched after normalization; the canonical
// name always matches itself.
type AliasMap map[string][]string

// ResolveIndices maps canonical field names to 0-based column positions
// in headers. Canonical names with no matching header are absent from
// the result rather than an error.
func ResolveIndices(headers []string, aliases AliasMap) map[string]int {
	byNorm := make(map[string]int, len(headers))
	for i, h := range headers {
		n := Normalize(h)
		if n == "" {
			continue
		}
		if _, exists := byNorm[n]; !exists {
			byNorm[n] = i
		}
	}
	out := make(map[string]int, len(aliases))
	for canonical, variants := range aliases {
		if idx, ok := byNorm[canonical]; ok {
			out[canonical] = idx
			continue
		}
		for _, v := range variants {
			if idx, ok := byNorm[Normalize(v)]; ok {
				out[canonical] = idx
				break
			}
		}
	}
	return out
}

// Get performs a defensive read from a normalized row map: the primary
// canonical name first, then each alias. Returns false when no variant
// is present.
func Get(row map[string]any, primary string, aliases ...string) (any, bool) {
	if v, ok := row[primary]; ok {
		return v, true
	}
	for _, a := range aliases {
		if v, ok := row[Normalize(a)]; ok {
			return v, true
		}
	}
	return nil, false
}
