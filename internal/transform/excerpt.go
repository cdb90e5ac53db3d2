package transform

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	anyTagPattern      = regexp.MustCompile(`<[^>]*>`)
	entityPattern      = regexp.MustCompile(`^&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z][a-zA-Z0-9]*);`)
	openParagraph      = regexp.MustCompile(`(?i)<p(?:\s[^>]*)?>`)
	closeParagraph     = regexp.MustCompile(`(?i)</p>`)
	trailingFragment   = regexp.MustCompile(`\s+[^.!?]*$`)
	sentenceTerminator = "!.?"
)

// ellipsisReplacer removes the truncation markers WordPress appends to
// automatic excerpts. Bracketed forms are listed first so "[…]" never
// leaves "[]" behind.
var ellipsisReplacer = strings.NewReplacer(
	"[&hellip;]", "",
	"[&#8230;]", "",
	"[…]", "",
	"[...]", "",
	"&hellip;", "",
	"&#8230;", "",
	"…", "",
)

// RemoveEllipsis strips WordPress ellipsis markers from text and trims the
// result.
func RemoveEllipsis(text string) string {
	return strings.TrimSpace(ellipsisReplacer.Replace(text))
}

// ProcessExcerpt cleans a CMS-provided excerpt: ellipsis markers and any
// trailing sentence fragment without terminal punctuation are dropped, then
// the result is shortened with SmartExcerpt.
func ProcessExcerpt(excerpt string, maxWords int) string {
	if excerpt == "" {
		return ""
	}
	clean := RemoveEllipsis(excerpt)
	clean = trailingFragment.ReplaceAllString(clean, "")
	return balanceParagraphs(SmartExcerpt(clean, maxWords))
}

// SmartExcerpt shortens html to at most maxWords visible words, preferring
// to end at the last sentence terminator inside the budget. Tags are kept
// as they are up to the cut point and a dangling <p> is closed. Input that
// is already within budget is returned with only ellipsis markers removed.
//
// A non-positive maxWords yields the empty string.
func SmartExcerpt(html string, maxWords int) string {
	if html == "" || maxWords <= 0 {
		return ""
	}

	plain := strings.TrimSpace(anyTagPattern.ReplaceAllString(html, ""))
	words := strings.Fields(plain)
	if len(words) <= maxWords {
		return ellipsisReplacer.Replace(html)
	}

	var prefix strings.Builder
	sentence := ""
	for _, w := range words[:maxWords] {
		if prefix.Len() > 0 {
			prefix.WriteByte(' ')
		}
		prefix.WriteString(w)
		if strings.ContainsRune(sentenceTerminator, lastRune(w)) {
			sentence = prefix.String()
		}
	}
	target := sentence
	if target == "" {
		target = prefix.String()
	}

	cut := visibleCut(html, visibleLen(target))
	result := strings.TrimSpace(html[:cut])
	return balanceParagraphs(result)
}

// visibleCut returns the byte offset in html just past the target-th
// visible character. Tags are skipped, a complete entity counts as one
// character and a whitespace run counts as one character once a visible
// character has been seen. A sentence terminator directly after the cut is
// included.
func visibleCut(html string, target int) int {
	count := 0
	inTag := false
	pendingSpace := false
	for i := 0; i < len(html); {
		r, size := utf8.DecodeRuneInString(html[i:])
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case inTag:
		case unicode.IsSpace(r):
			pendingSpace = count > 0
		default:
			if r == '&' {
				if m := entityPattern.FindString(html[i:]); m != "" {
					size = len(m)
				}
			}
			if pendingSpace {
				count++
				pendingSpace = false
			}
			count++
			if count >= target {
				end := i + size
				if end < len(html) && strings.IndexByte(sentenceTerminator, html[end]) >= 0 {
					end++
				}
				return end
			}
		}
		i += size
	}
	return len(html)
}

// visibleLen counts characters the way visibleCut does for plain text.
func visibleLen(text string) int {
	n := 0
	for i := 0; i < len(text); {
		size := 1
		if text[i] == '&' {
			if m := entityPattern.FindString(text[i:]); m != "" {
				size = len(m)
			}
		} else {
			_, size = utf8.DecodeRuneInString(text[i:])
		}
		n++
		i += size
	}
	return n
}

func balanceParagraphs(html string) string {
	open := len(openParagraph.FindAllStringIndex(html, -1))
	closed := len(closeParagraph.FindAllStringIndex(html, -1))
	if open > closed {
		return html + "</p>"
	}
	return html
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}
