package transform

import (
	"regexp"
	"strings"
)

var (
	captionShortcodePattern = regexp.MustCompile(`(?s)\[caption[^\]]*\](.*?)\[/caption\]`)
	captionDivPattern       = regexp.MustCompile(`(?s)<div[^>]*class="[^"]*wp-caption[^"]*"[^>]*>(.*?)</div>`)
	captionTextPattern      = regexp.MustCompile(`(?s)<p[^>]*class="[^"]*wp-caption-text[^"]*"[^>]*>(.*?)</p>`)
	imgTagPattern           = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	imgTitleAttr            = regexp.MustCompile(`\s+title="([^"]+)"`)
	figurePattern           = regexp.MustCompile(`(?is)<figure\b.*?</figure>`)
)

// NormalizeLegacyMarkup rewrites legacy WordPress caption constructs into
// <figure>/<figcaption> and marks every image for lazy loading. Passes run
// in a fixed order:
//  1. [caption]…[/caption] shortcodes
//  2. <div class="wp-caption"> wrappers
//  3. <img title="…"> outside a figure
//  4. loading="lazy" on every <img> without a loading attribute
//
// Markup that does not fully match a pass is left unchanged.
func NormalizeLegacyMarkup(html string) string {
	if html == "" {
		return ""
	}
	html = rewriteCaptionShortcodes(html)
	html = rewriteCaptionDivs(html)
	html = rewriteTitledImages(html)
	return addLazyLoading(html)
}

func captionFigure(img, caption string) string {
	return `<figure class="wp-caption-figure">` + lazyImg(img) +
		`<figcaption class="wp-caption-text">` + caption + `</figcaption></figure>`
}

// lazyImg adds loading="lazy" to a single <img> tag unless it already
// declares a loading attribute.
func lazyImg(tag string) string {
	if strings.Contains(tag, "loading=") || len(tag) < len("<img") {
		return tag
	}
	return tag[:len("<img")] + ` loading="lazy"` + tag[len("<img"):]
}

func rewriteCaptionShortcodes(html string) string {
	return captionShortcodePattern.ReplaceAllStringFunc(html, func(match string) string {
		inner := captionShortcodePattern.FindStringSubmatch(match)[1]
		loc := imgTagPattern.FindStringIndex(inner)
		if loc == nil {
			return match
		}
		img := inner[loc[0]:loc[1]]
		caption := strings.TrimSpace(inner[:loc[0]] + inner[loc[1]:])
		if caption == "" {
			return match
		}
		return captionFigure(img, caption)
	})
}

func rewriteCaptionDivs(html string) string {
	return captionDivPattern.ReplaceAllStringFunc(html, func(match string) string {
		inner := captionDivPattern.FindStringSubmatch(match)[1]
		if !strings.Contains(inner, "wp-caption-text") {
			return match
		}
		img := imgTagPattern.FindString(inner)
		if img == "" {
			return match
		}
		m := captionTextPattern.FindStringSubmatch(inner)
		if m == nil || m[1] == "" {
			return match
		}
		return captionFigure(img, m[1])
	})
}

func rewriteTitledImages(html string) string {
	figures := figurePattern.FindAllStringIndex(html, -1)
	insideFigure := func(pos int) bool {
		for _, f := range figures {
			if pos >= f[0] && pos < f[1] {
				return true
			}
		}
		return false
	}

	locs := imgTagPattern.FindAllStringIndex(html, -1)
	if len(locs) == 0 {
		return html
	}
	var b strings.Builder
	b.Grow(len(html))
	lastEnd := 0
	for _, loc := range locs {
		tag := html[loc[0]:loc[1]]
		m := imgTitleAttr.FindStringSubmatchIndex(tag)
		if m == nil || insideFigure(loc[0]) {
			continue
		}
		title := tag[m[2]:m[3]]
		img := tag[:m[0]] + tag[m[1]:]
		b.WriteString(html[lastEnd:loc[0]])
		b.WriteString(captionFigure(img, title))
		lastEnd = loc[1]
	}
	b.WriteString(html[lastEnd:])
	return b.String()
}

func addLazyLoading(html string) string {
	return imgTagPattern.ReplaceAllStringFunc(html, lazyImg)
}
