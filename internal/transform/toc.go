package transform

import (
	"fmt"
	htmlutil "html"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ScrollMarginClass is appended to every rewritten heading so anchored
// headings clear the sticky header.
const ScrollMarginClass = "scroll-mt-[var(--toc-offset,96px)]"

var (
	tocHeadingPattern = regexp.MustCompile(`(?is)<h2(?:\s+[^>]*)?>(.*?)</h2>`)
	h2OpenPattern     = regexp.MustCompile(`(?i)^<h2(?:\s+[^>]*)?>`)
	headingIDAttr     = regexp.MustCompile(`(^|\s)id\s*=\s*["']([^"']*)["']`)
	headingClassAttr  = regexp.MustCompile(`(^|\s)class\s*=\s*["']([^"']*)["']`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
	nonSlugChars      = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_-]+`)
)

// TocEntry is one level-2 heading in document order.
type TocEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TocSplit is the result of BuildTocAndSplit. Pre+Post is the rewritten
// document; Post starts at the first level-2 heading.
type TocSplit struct {
	Entries []TocEntry
	Pre     string
	Post    string
}

// HTML returns the full rewritten document.
func (s TocSplit) HTML() string {
	return s.Pre + s.Post
}

// slugify derives a heading id: lowercase, whitespace runs become single
// hyphens, anything but letters, marks, digits, underscore and hyphen is
// dropped. Letters outside ASCII are kept as they are.
func slugify(text string) string {
	s := norm.NFC.String(strings.ToLower(strings.TrimSpace(text)))
	s = whitespaceRun.ReplaceAllString(s, "-")
	return nonSlugChars.ReplaceAllString(s, "")
}

// BuildTocAndSplit finds every <h2>, gives it a unique id and the scroll
// margin class, and splits the rewritten document at the first heading.
// An existing id on the heading is kept unless an earlier heading already
// used it. Collisions get -2, -3, … suffixes.
func BuildTocAndSplit(html string) TocSplit {
	matches := tocHeadingPattern.FindAllStringSubmatchIndex(html, -1)
	if len(matches) == 0 {
		return TocSplit{Entries: []TocEntry{}, Pre: html}
	}

	used := make(map[string]bool, len(matches))
	entries := make([]TocEntry, 0, len(matches))

	var body strings.Builder
	body.Grow(len(html) + len(matches)*64)
	lastEnd := 0
	splitAt := -1

	for i, loc := range matches {
		fullStart, fullEnd := loc[0], loc[1]
		heading := html[fullStart:fullEnd]
		inner := html[loc[2]:loc[3]]
		openTag := h2OpenPattern.FindString(heading)

		text := strings.TrimSpace(anyTagPattern.ReplaceAllString(inner, ""))

		id := ""
		if m := headingIDAttr.FindStringSubmatch(openTag); m != nil {
			id = m[2]
		}
		if id == "" {
			id = slugify(text)
		}
		if id == "" {
			id = fmt.Sprintf("heading-%d", i+1)
		}
		unique := id
		for n := 2; used[unique]; n++ {
			unique = fmt.Sprintf("%s-%d", id, n)
		}
		used[unique] = true
		entries = append(entries, TocEntry{ID: unique, Text: text})

		body.WriteString(html[lastEnd:fullStart])
		if splitAt < 0 {
			splitAt = body.Len()
		}
		body.WriteString(rewriteHeadingOpenTag(openTag, unique))
		body.WriteString(heading[len(openTag):])
		lastEnd = fullEnd
	}
	body.WriteString(html[lastEnd:])

	out := body.String()
	return TocSplit{Entries: entries, Pre: out[:splitAt], Post: out[splitAt:]}
}

// rewriteHeadingOpenTag sets id and appends ScrollMarginClass on a single
// <h2 ...> opening tag.
func rewriteHeadingOpenTag(tag, id string) string {
	if loc := headingIDAttr.FindStringSubmatchIndex(tag); loc != nil {
		tag = tag[:loc[3]] + `id="` + id + `"` + tag[loc[1]:]
	} else {
		tag = tag[:3] + ` id="` + id + `"` + tag[3:]
	}
	if loc := headingClassAttr.FindStringSubmatchIndex(tag); loc != nil {
		classes := strings.TrimSpace(tag[loc[4]:loc[5]])
		if classes != "" {
			classes += " "
		}
		tag = tag[:loc[3]] + `class="` + classes + ScrollMarginClass + `"` + tag[loc[1]:]
	} else {
		tag = tag[:3] + ` class="` + ScrollMarginClass + `"` + tag[3:]
	}
	return tag
}

// RenderTOC renders the "Contents" navigation placed before the first
// heading. It returns "" when there are no entries.
func RenderTOC(entries []TocEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<nav class="toc" aria-label="Contents">`)
	b.WriteString(`<p class="toc__title">Contents</p><ol class="toc__list">`)
	b.WriteByte('\n')
	for _, e := range entries {
		b.WriteString(`<li class="toc__item"><a class="toc__link" href="#`)
		b.WriteString(htmlutil.EscapeString(e.ID))
		b.WriteString(`">`)
		b.WriteString(htmlutil.EscapeString(htmlutil.UnescapeString(e.Text)))
		b.WriteString("</a></li>\n")
	}
	b.WriteString("</ol></nav>")
	return b.String()
}
