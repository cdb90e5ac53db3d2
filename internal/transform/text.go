package transform

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxDescriptionLen is the maximum length of a description before truncation.
const MaxDescriptionLen = 200

// skipText lists elements whose text never reaches the reader.
var skipText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
}

// blockBoundary lists elements that separate words even when the markup
// has no whitespace between them ("<p>a</p><p>b</p>").
var blockBoundary = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Figure: true, atom.Figcaption: true,
	atom.Tr: true, atom.Td: true, atom.Th: true, atom.Section: true,
	atom.Ul: true, atom.Ol: true, atom.Pre: true, atom.Table: true,
}

// PlainText extracts the visible text of an HTML fragment. Entities are
// decoded, script and style content is dropped and whitespace is collapsed.
func PlainText(fragment string) string {
	if fragment == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseWhitespace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipText[a] {
				skip++
			}
			if blockBoundary[a] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipText[a] && skip > 0 {
				skip--
			}
			if blockBoundary[a] {
				b.WriteByte(' ')
			}
		}
	}
}

// collapseWhitespace replaces runs of whitespace (including newlines)
// with a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// capDescription shortens desc to MaxDescriptionLen bytes at a word
// boundary and marks the cut with an ellipsis.
func capDescription(desc string) string {
	if len(desc) <= MaxDescriptionLen {
		return desc
	}
	cut := strings.LastIndex(desc[:MaxDescriptionLen], " ")
	if cut <= 0 {
		cut = MaxDescriptionLen
		for cut > 0 && !utf8.RuneStart(desc[cut]) {
			cut--
		}
	}
	return strings.TrimRight(desc[:cut], ".,;: ") + " …"
}
