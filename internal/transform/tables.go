package transform

import (
	htmlutil "html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTableMinColumns is the column count from which a table is wrapped
// in a horizontally scrollable region.
const DefaultTableMinColumns = 4

var (
	tablePattern      = regexp.MustCompile(`(?is)<table\b.*?</table>`)
	openTableWrapper  = regexp.MustCompile(`(?is)<div[^>]*class="[^"]*\brt-wrap\b[^"]*"[^>]*>\s*$`)
	defaultTableLabel = "Table"
)

// wrapperLookBehind bounds how far back an enclosing rt-wrap opening tag
// is searched for.
const wrapperLookBehind = 512

// WrapWideTables wraps every <table> whose first row has at least
// minColumns cells in a focusable scroll region labelled with the table's
// caption. Tables that are already wrapped are left alone.
func WrapWideTables(html string, minColumns int) string {
	if minColumns <= 0 {
		minColumns = DefaultTableMinColumns
	}
	locs := tablePattern.FindAllStringIndex(html, -1)
	if len(locs) == 0 {
		return html
	}

	var b strings.Builder
	b.Grow(len(html) + len(locs)*96)
	lastEnd := 0
	for _, loc := range locs {
		table := html[loc[0]:loc[1]]
		if openTableWrapper.MatchString(html[max(0, loc[0]-wrapperLookBehind):loc[0]]) {
			continue
		}
		cols, label := inspectTable(table)
		if cols < minColumns {
			continue
		}
		b.WriteString(html[lastEnd:loc[0]])
		b.WriteString(`<div class="rt-wrap" role="region" tabindex="0" aria-label="`)
		b.WriteString(htmlutil.EscapeString(label))
		b.WriteString(`">`)
		b.WriteString(table)
		b.WriteString(`</div>`)
		lastEnd = loc[1]
	}
	b.WriteString(html[lastEnd:])
	return b.String()
}

// inspectTable returns the number of cells in the first row and the
// caption text (or the default label).
func inspectTable(table string) (int, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(table))
	if err != nil {
		return 0, defaultTableLabel
	}
	cols := doc.Find("tr").First().Children().Length()
	label := collapseWhitespace(doc.Find("caption").First().Text())
	if label == "" {
		label = defaultTableLabel
	}
	return cols, label
}
