package transform

import "strings"

// entityReplacer decodes the entities WordPress emits in titles, excerpts
// and alt text. strings.Replacer works in a single left-to-right pass, so a
// decoded "&amp;" is never decoded a second time ("&amp;lt;" → "&lt;").
var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#039;", "'",
	"&#8217;", "'",
	"&#8216;", "'",
	"&#8211;", "–",
	"&#8212;", "—",
	"&#8230;", "…",
	"&#8220;", "“",
	"&#8221;", "”",
	"&nbsp;", " ",
)

// DecodeEntities replaces a fixed set of named and numeric character
// entities with literal characters. Unknown entities are left as they are.
func DecodeEntities(text string) string {
	if text == "" {
		return ""
	}
	return entityReplacer.Replace(text)
}
