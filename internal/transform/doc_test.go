package transform

import (
	"strings"
	"testing"
	"time"
)

func TestPipelineTree(t *testing.T) {
	tree, err := ParseDocument([]byte(`{"root":{"type":"root","children":[
		{"type":"paragraph","children":[{"type":"text","text":"Lead paragraph. It introduces the topic.","format":0}]},
		{"type":"heading","tag":"h2","children":[{"type":"text","text":"First","format":0}]},
		{"type":"paragraph","children":[{"type":"text","text":"Body text.","format":1}]},
		{"type":"heading","tag":"h2","children":[{"type":"text","text":"Second","format":0}]}
	]}}`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	published := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	doc, err := Pipeline(Source{
		Meta: ArticleMeta{
			Title:     "Tom &amp; Jerry&#8217;s guide",
			Slug:      "guide",
			Category:  "News",
			Published: published,
			Image:     &Image{URL: "/a.jpg", Alt: "A &quot;cat&quot;"},
		},
		Tree: tree,
	}, Options{ExcerptWords: 5})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}

	if doc.Meta.Title != "Tom & Jerry's guide" {
		t.Fatalf("expected decoded title, got %q", doc.Meta.Title)
	}
	if doc.Meta.Image.Alt != `A "cat"` {
		t.Fatalf("expected decoded alt, got %q", doc.Meta.Image.Alt)
	}
	if len(doc.TOC) != 2 || doc.TOC[0].ID != "first" || doc.TOC[1].ID != "second" {
		t.Fatalf("unexpected toc: %+v", doc.TOC)
	}
	if doc.Body[:doc.SplitAt] != "<p>Lead paragraph. It introduces the topic.</p>" {
		t.Fatalf("unexpected pre: %q", doc.Body[:doc.SplitAt])
	}
	if !strings.HasPrefix(doc.Body[doc.SplitAt:], `<h2 class="`+ScrollMarginClass+`" id="first">`) {
		t.Fatalf("unexpected post: %q", doc.Body[doc.SplitAt:])
	}
	if doc.Excerpt != "Lead paragraph." {
		t.Fatalf("unexpected excerpt: %q", doc.Excerpt)
	}
	if doc.Desc != "Lead paragraph." {
		t.Fatalf("unexpected description: %q", doc.Desc)
	}

	if !strings.HasPrefix(doc.Fragment, "<!--META:") {
		t.Fatalf("expected META comment prefix")
	}
	fm, body, err := ParseFragment(doc.Fragment)
	if err != nil {
		t.Fatalf("ParseFragment: %v", err)
	}
	if body != doc.Body {
		t.Fatalf("fragment body differs from doc body")
	}
	if fm.Title != doc.Meta.Title || fm.Slug != "guide" || fm.Category != "News" {
		t.Fatalf("unexpected meta: %+v", fm)
	}
	if !fm.Published.Equal(published) || !fm.Modified.IsZero() {
		t.Fatalf("unexpected dates: %v %v", fm.Published, fm.Modified)
	}
	if fm.SplitAt != doc.SplitAt || len(fm.TOC) != 2 {
		t.Fatalf("unexpected split metadata: %+v", fm)
	}
}

func TestPipelineHTMLWithExcerpt(t *testing.T) {
	doc, err := Pipeline(Source{
		Meta: ArticleMeta{Title: "Legacy", Excerpt: "<p>Hello world. Trailing words [&hellip;]</p>"},
		HTML: `[caption]<img src="a.jpg">A cat[/caption]<p>No headings here.</p>`,
	}, Options{})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}

	if !strings.Contains(doc.Body, `<figure class="wp-caption-figure"><img loading="lazy" src="a.jpg">`) {
		t.Fatalf("expected normalized caption, got:\n%s", doc.Body)
	}
	if len(doc.TOC) != 0 || doc.SplitAt != len(doc.Body) {
		t.Fatalf("expected no toc and split at end, got %+v at %d", doc.TOC, doc.SplitAt)
	}
	if doc.Excerpt != "<p>Hello world.</p>" {
		t.Fatalf("unexpected excerpt: %q", doc.Excerpt)
	}
	if doc.Desc != "Hello world." {
		t.Fatalf("unexpected description: %q", doc.Desc)
	}
}

func TestPipelineMarkdown(t *testing.T) {
	doc, err := Pipeline(Source{
		Meta:     ArticleMeta{Title: "Markdown"},
		Markdown: "Intro line.\n\n## Setup\n\n| a | b | c | d |\n|---|---|---|---|\n| 1 | 2 | 3 | 4 |\n",
		HTML:     "<p>ignored</p>",
	}, Options{TableMinColumns: 4, ExcerptWords: 3})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if strings.Contains(doc.Body, "ignored") {
		t.Fatalf("markdown should take precedence over html")
	}
	if len(doc.TOC) != 1 || doc.TOC[0].ID != "setup" {
		t.Fatalf("unexpected toc: %+v", doc.TOC)
	}
	if !strings.Contains(doc.Body, `<div class="rt-wrap"`) {
		t.Fatalf("expected wide table wrapper, got:\n%s", doc.Body)
	}
	if doc.Excerpt != "<p>Intro line.</p>" {
		t.Fatalf("unexpected excerpt: %q", doc.Excerpt)
	}
}

func fillerWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word"
	}
	return strings.Join(words, " ")
}

func TestPipelineExcerptKeepsBudgetWithEscapedText(t *testing.T) {
	doc, err := Pipeline(Source{
		Meta: ArticleMeta{Title: "Compare"},
		HTML: "<p>Compare x &lt; y here. " + fillerWords(100) + "</p>",
	}, Options{ExcerptWords: 10})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if doc.Excerpt != "<p>Compare x &lt; y here.</p>" {
		t.Fatalf("unexpected excerpt: %q", doc.Excerpt)
	}
	if doc.Desc != "Compare x < y here." {
		t.Fatalf("unexpected description: %q", doc.Desc)
	}
}

func TestPipelineTreeExcerptEscapesText(t *testing.T) {
	tree, err := ParseDocument([]byte(`{"root":{"type":"root","children":[
		{"type":"paragraph","children":[{"type":"text","text":"if a < b then c. ` + fillerWords(80) + `"}]}
	]}}`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	doc, err := Pipeline(Source{Meta: ArticleMeta{Title: "Tree"}, Tree: tree}, Options{ExcerptWords: 10})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if doc.Excerpt != "if a &lt; b then c." {
		t.Fatalf("unexpected excerpt: %q", doc.Excerpt)
	}
	if got := len(strings.Fields(PlainText(doc.Excerpt))); got > 10 {
		t.Fatalf("excerpt has %d words, budget 10", got)
	}
}
