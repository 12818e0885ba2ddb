package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// numberRegexp captures the leading numeric value once spacing is removed,
// separators included; normaliseSeparators decides what they mean.
var numberRegexp = regexp.MustCompile(`-?\d+(?:[.,]\d+)*`)

// maxExactInt bounds values we are willing to store as integers.
const maxExactInt = 1 << 53

// parseNumber extracts a non-negative number from vendor text such as
// "250 000", "85,5 m²" or "1200.00". ok is false when nothing numeric is found.
func parseNumber(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	match := numberRegexp.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(normaliseSeparators(match), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v < 0 {
		return 0, true
	}
	return v, true
}

// normaliseSeparators rewrites a matched number for strconv. A lone "." or
// "," is a decimal point, so "85,5" and "1.250" stay fractional. A separator
// repeated between three-digit groups is thousands grouping ("1.250.000",
// "1,250,000"); when the last separator differs from the first it is the
// decimal point ("1.250.000,50", "1,250.5"). Anything else keeps only its
// first fraction.
func normaliseSeparators(num string) string {
	first := strings.IndexAny(num, ".,")
	if first < 0 {
		return num
	}
	last := strings.LastIndexAny(num, ".,")
	if first == last {
		return num[:first] + "." + num[first+1:]
	}

	intPart, frac := num[:last], num[last+1:]
	if num[first] == num[last] {
		intPart, frac = num, ""
	}
	groups := strings.Split(intPart, num[first:first+1])
	for _, g := range groups[1:] {
		if len(g) != 3 || strings.ContainsAny(g, ".,") {
			parts := strings.FieldsFunc(num, func(r rune) bool { return r == '.' || r == ',' })
			return parts[0] + "." + parts[1]
		}
	}
	out := strings.Join(groups, "")
	if frac != "" {
		out += "." + frac
	}
	return out
}

// toInt coerces raw to a non-negative integer, truncating decimals. Any
// failure yields 0.
func toInt(raw string) int {
	v, ok := parseNumber(raw)
	if !ok || v >= maxExactInt {
		return 0
	}
	return int(v)
}

// toFloat coerces raw to a non-negative float. Any failure yields 0.
func toFloat(raw string) float64 {
	v, _ := parseNumber(raw)
	return v
}

// toOptionalFloat returns nil for missing, unparseable or zero values.
func toOptionalFloat(raw string) *float64 {
	v, ok := parseNumber(raw)
	if !ok || v == 0 {
		return nil
	}
	return &v
}

// toGrade accepts a single energy-class letter A..G.
func toGrade(raw string) *string {
	g := strings.ToUpper(strings.TrimSpace(raw))
	if len(g) != 1 || g[0] < 'A' || g[0] > 'G' {
		return nil
	}
	return &g
}

// fold upper-cases s and strips diacritics so "Électrique" matches
// "ELECTRIQUE".
func fold(s string) string {
	decomposed := norm.NFD.String(s)
	stripped := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, decomposed)
	return strings.ToUpper(stripped)
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
