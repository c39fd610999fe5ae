// Package sheetval converts between raw spreadsheet cell values and the
// typed values the sync engine works with, and provides the two-column
// provenance stamp shared by every writer.
package sheetval

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// truthy cell spellings, matched case-insensitively after trimming.
var truthy = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true,
	"✅": true, "✔": true, "ok": true,
}

var falsy = map[string]bool{
	"false": true, "no": true, "n": true, "0": true,
	"": true, "❌": true, "✖": true,
}

// ParseBool interprets a cell as a boolean. Unrecognized spellings
// return false with ok=false.
func ParseBool(v any) (val, ok bool) {
	switch t := v.(type) {
	case nil:
		return false, false
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if truthy[s] {
			return true, true
		}
		if falsy[s] {
			return false, true
		}
		return false, false
	}
	return false, false
}

// ParseFloat interprets a cell as a float. Blanks and garbage return
// nil rather than an error; thousands separators and a stray % or
// currency prefix are tolerated.
func ParseFloat(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f := t
		return &f
	case int:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		s = strings.TrimPrefix(s, "$")
		s = strings.TrimPrefix(s, "€")
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

// dateLayouts tried in order.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "01/02/2006"}

// ParseDate interprets a cell as a date, trying ISO, day-first, and
// month-first layouts in that order. Returns nil when no layout fits.
func ParseDate(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		if t, isTime := v.(time.Time); isTime {
			u := t.UTC()
			return &u
		}
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// ParseString trims a cell to a string; nil stays empty.
func ParseString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// ParseJSONMap interprets a cell as a JSON object of string → float.
// Blank cells return (nil, true); malformed JSON returns ok=false.
func ParseJSONMap(v any) (map[string]float64, bool) {
	s := ParseString(v)
	if s == "" {
		return nil, true
	}
	var out map[string]float64
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	return out, true
}

// ParseMetricChain splits a metric-chain cell ("signup_rate -> activation
// -> revenue", commas also accepted) into its ordered KPI keys.
func ParseMetricChain(v any) []string {
	s := ParseString(v)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "→", "->")
	sep := "->"
	if !strings.Contains(s, sep) {
		sep = ","
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SheetScalar normalizes a typed value to a sheet-safe scalar: dates and
// times become ISO strings, maps and slices become JSON strings, nil
// pointers become the empty string.
func SheetScalar(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case *float64:
		if t == nil {
			return ""
		}
		return *t
	case *int64:
		if t == nil {
			return ""
		}
		return float64(*t)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case map[string]float64:
		if len(t) == 0 {
			return ""
		}
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	case []string:
		if len(t) == 0 {
			return ""
		}
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	case string, float64, bool, int, int64:
		return t
	}
	return fmt.Sprint(v)
}

// Stamp is the two-column audit contract every writer applies.
type Stamp struct {
	UpdatedSource string
	UpdatedAt     string // ISO-8601 UTC
}

// NewStamp builds the provenance stamp for a writer identified by its
// provenance token.
func NewStamp(source string, now time.Time) Stamp {
	return Stamp{
		UpdatedSource: source,
		UpdatedAt:     now.UTC().Format(time.RFC3339),
	}
}
