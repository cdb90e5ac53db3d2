package web

import (
	"encoding/json"
	"html/template"
	"net/url"
	"time"

	"github.com/seb128/cms-article-renderer/internal/search"
	"github.com/seb128/cms-article-renderer/internal/transform"
)

// page holds the fields every template reads from base.html.
type page struct {
	SiteName     string
	SiteURL      string
	ActiveNav    string
	Title        string
	Description  string
	CanonicalURL string
	JSONLD       template.HTML
}

type listView struct {
	page
	Heading  string
	BasePath string
	Results  []search.Result
	Total    uint64
	Page     int
	PrevPage int
	NextPage int
}

type searchView struct {
	page
	Query       string
	Category    string
	Total       uint64
	Results     []search.Result
	SearchError bool
}

type articleView struct {
	page
	Category     string
	CategorySlug string
	Published    time.Time
	Modified     time.Time
	Image        *transform.Image
	Pre          template.HTML
	TOC          template.HTML
	Post         template.HTML
}

type breadcrumb struct {
	Label string
	Href  string
}

func buildJSONLD(data any) template.HTML {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return template.HTML(`<script type="application/ld+json">` + string(b) + `</script>`)
}

func buildArticleJSONLD(p page, meta transform.FragmentMeta) template.HTML {
	article := map[string]any{
		"@context":    "https://schema.org",
		"@type":       "BlogPosting",
		"headline":    meta.Title,
		"description": meta.Description,
		"url":         p.CanonicalURL,
		"isPartOf": map[string]any{
			"@type": "WebSite",
			"name":  p.SiteName,
			"url":   p.SiteURL,
		},
	}
	if !meta.Published.IsZero() {
		article["datePublished"] = meta.Published.UTC().Format(time.RFC3339)
	}
	if !meta.Modified.IsZero() {
		article["dateModified"] = meta.Modified.UTC().Format(time.RFC3339)
	}
	if meta.Image != nil && meta.Image.URL != "" {
		article["image"] = meta.Image.URL
	}
	if meta.Category != "" {
		article["articleSection"] = meta.Category
	}

	items := []any{article}
	if meta.CategorySlug != "" {
		items = append([]any{buildBreadcrumbJSONLD(p.SiteURL, []breadcrumb{
			{Label: meta.Category, Href: "/category/" + url.PathEscape(meta.CategorySlug)},
			{Label: meta.Title},
		})}, items...)
	}
	return buildJSONLD(items)
}

func buildBreadcrumbJSONLD(siteURL string, breadcrumbs []breadcrumb) map[string]any {
	items := make([]map[string]any, 0, len(breadcrumbs))
	for i, crumb := range breadcrumbs {
		href := crumb.Href
		if href == "" {
			continue
		}
		items = append(items, map[string]any{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     crumb.Label,
			"item":     siteURL + href,
		})
	}
	return map[string]any{
		"@context":        "https://schema.org",
		"@type":           "BreadcrumbList",
		"itemListElement": items,
	}
}

func buildIndexJSONLD(siteURL, siteName string) template.HTML {
	return buildJSONLD(map[string]any{
		"@context": "https://schema.org",
		"@type":    "WebSite",
		"name":     siteName,
		"url":      siteURL,
		"potentialAction": map[string]any{
			"@type":       "SearchAction",
			"target":      siteURL + "/search?q={search_term_string}",
			"query-input": "required name=search_term_string",
		},
	})
}
