package cloze

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// markerPattern matches {{cN::text}} and {{cN::text::hint}}. Text and hint
// never contain a closing brace.
var markerPattern = regexp.MustCompile(`\{\{c(\p{Nd}+)::([^}]*?)(::([^}]*?))?\}\}`)

const (
	openSpan  = `<span class="cloze">`
	closeSpan = `</span>`
	// Placeholder is shown in place of an active deletion that has no hint.
	Placeholder = "[...]"
)

// Marker is a single cloze deletion found in a field.
type Marker struct {
	Ordinal int
	Text    string
	Hint    string
	HasHint bool
}

// parseOrdinal returns 0 for ordinals above 4294967295 or with digits
// outside ASCII, so they never match a real card.
func parseOrdinal(s string) int {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return int(n)
}

func markerFromSubmatch(text string, loc []int) Marker {
	m := Marker{
		Ordinal: parseOrdinal(text[loc[2]:loc[3]]),
		Text:    text[loc[4]:loc[5]],
	}
	if loc[8] >= 0 {
		m.Hint = text[loc[8]:loc[9]]
		m.HasHint = true
	}
	return m
}

// Markers returns every cloze marker in text, in order of appearance.
func Markers(text string) []Marker {
	locs := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	markers := make([]Marker, 0, len(locs))
	for _, loc := range locs {
		markers = append(markers, markerFromSubmatch(text, loc))
	}
	return markers
}

// Render replaces every marker in text for the card with the given ordinal.
//
// Markers belonging to the active ordinal are masked on the question side,
// showing the hint in brackets when one exists, and revealed inside a styled
// span on the answer side. All other markers are replaced by their plain
// text regardless of side.
func Render(text string, ordinal int, question bool) string {
	locs := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, loc := range locs {
		sb.WriteString(text[last:loc[0]])
		last = loc[1]

		m := markerFromSubmatch(text, loc)
		if m.Ordinal != ordinal {
			sb.WriteString(m.Text)
			continue
		}

		sb.WriteString(openSpan)
		switch {
		case !question:
			sb.WriteString(m.Text)
		case m.HasHint:
			sb.WriteString("[")
			sb.WriteString(m.Hint)
			sb.WriteString("]")
		default:
			sb.WriteString(Placeholder)
		}
		sb.WriteString(closeSpan)
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// CountOrdinals returns the highest ordinal used in text, or 0 when text has
// no markers. This is the number of cards the field generates; a field using
// only c1 and c3 therefore reports 3.
func CountOrdinals(text string) int {
	highest := 0
	for _, m := range Markers(text) {
		if m.Ordinal > highest {
			highest = m.Ordinal
		}
	}
	return highest
}

// Ordinals returns the distinct non-zero ordinals used in text in ascending
// order.
func Ordinals(text string) []int {
	seen := make(map[int]struct{})
	var ords []int
	for _, m := range Markers(text) {
		if m.Ordinal == 0 {
			continue
		}
		if _, ok := seen[m.Ordinal]; ok {
			continue
		}
		seen[m.Ordinal] = struct{}{}
		ords = append(ords, m.Ordinal)
	}
	sort.Ints(ords)
	return ords
}
