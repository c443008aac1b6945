package templating

import "sort"

// FilterFunc transforms a field value. Filters are pure: the same input always
// produces the same output.
type FilterFunc func(content string) string

// ClozeFilter is rendered by the cloze engine with the active ClozeContext
// instead of through the filter registry.
const ClozeFilter = "cloze"

// filters is never written after initialization.
var filters = map[string]FilterFunc{
	// HTML (from filters_html.go)
	"text": filterText,
	"hint": filterHint,
	"type": filterType,

	// Ruby annotations (from filters_ruby.go)
	"furigana": filterFurigana,
	"kanji":    filterKanji,
	"kana":     filterKana,
}

// ApplyFilter applies the named filter to content. Unknown names, and the
// cloze filter, return content unchanged.
func ApplyFilter(name, content string) string {
	if f, ok := filters[name]; ok {
		return f(content)
	}
	return content
}

// HasFilter reports whether name is a filter the renderer understands.
func HasFilter(name string) bool {
	if name == ClozeFilter {
		return true
	}
	_, ok := filters[name]
	return ok
}

// FilterNames returns every recognized filter name, including cloze, sorted.
func FilterNames() []string {
	names := make([]string, 0, len(filters)+1)
	for name := range filters {
		names = append(names, name)
	}
	names = append(names, ClozeFilter)
	sort.Strings(names)
	return names
}
