package templating

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

var (
	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

	lineBreaks = strings.NewReplacer(
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
		"</br>", "\n",
	)

	attrEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
	)
)

// filterText turns line breaks into newlines and strips every other tag.
func filterText(content string) string {
	return htmlTagPattern.ReplaceAllString(lineBreaks.Replace(content), "")
}

// filterHint hides content behind a "Show Hint" link. The container id comes
// from a hash of the content, so identical hints share an id.
func filterHint(content string) string {
	if content == "" {
		return ""
	}
	id := hintID(content)
	return fmt.Sprintf(
		`<a class="hint" href="#" onclick="this.style.display='none';document.getElementById('hint%d').style.display='block';return false;">Show Hint</a>`+
			`<div id="hint%d" class="hint" style="display:none">%s</div>`,
		id, id, content)
}

// hintID is the first eight bytes of the content's BLAKE3 digest, little endian.
func hintID(content string) uint64 {
	sum := blake3.Sum256([]byte(content))
	return binary.LittleEndian.Uint64(sum[:8])
}

// filterType emits the type-in answer box; the expected answer is carried in
// an escaped data attribute for the client to compare against.
func filterType(content string) string {
	return `<input type="text" id="typeans" class="type-answer" data-expected="` + attrEscaper.Replace(content) + `"/>`
}
