package templating

import "regexp"

var (
	// rubyPattern matches HTML ruby: <ruby>base<rt>reading</rt></ruby>.
	rubyPattern = regexp.MustCompile(`<ruby>([^<]*)<rt>([^<]*)</rt></ruby>`)
	// bracketRubyPattern matches the shorthand 漢字[かんじ].
	bracketRubyPattern = regexp.MustCompile(`(\p{Han}+)\[([^\]]+)\]`)
)

// filterFurigana converts bracket ruby into HTML ruby. Existing HTML ruby is
// left alone.
func filterFurigana(content string) string {
	return bracketRubyPattern.ReplaceAllString(content, "<ruby>${1}<rt>${2}</rt></ruby>")
}

// filterKanji keeps only the base text of both ruby forms.
func filterKanji(content string) string {
	return bracketRubyPattern.ReplaceAllString(rubyPattern.ReplaceAllString(content, "${1}"), "${1}")
}

// filterKana keeps only the reading of both ruby forms.
func filterKana(content string) string {
	return bracketRubyPattern.ReplaceAllString(rubyPattern.ReplaceAllString(content, "${2}"), "${2}")
}
