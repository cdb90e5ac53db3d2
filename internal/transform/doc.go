// Package transform implements the HTML content pipeline that turns CMS
// article content into web-ready fragments.
//
// The pipeline runs as a sequence of named stages:
//  1. Render the body (document tree, Markdown or HTML)
//  2. Normalize legacy caption markup and lazy-load images
//  3. Wrap wide tables in scroll regions
//  4. Assign heading ids and split at the first <h2>
//  5. Build the excerpt
//  6. Derive the description
//  7. Prepend metadata JSON header
//
// Every stage except Markdown rendering and metadata encoding is total:
// malformed input degrades to unchanged output rather than an error.
package transform

import (
	"fmt"
	htmlutil "html"
	"strings"
)

// Doc holds the state of an article as it passes through the pipeline.
type Doc struct {
	Meta     ArticleMeta
	Body     string     // rendered body, without the metadata header
	TOC      []TocEntry // set by stage 4
	SplitAt  int        // byte offset of the first <h2> in Body (stage 4)
	Excerpt  string     // set by stage 5
	Desc     string     // set by stage 6
	Fragment string     // header + Body (stage 7)
}

// Pipeline runs all transformation stages on one article.
func Pipeline(src Source, opts Options) (Doc, error) {
	doc := Doc{Meta: src.Meta}
	doc.Meta.Title = DecodeEntities(src.Meta.Title)
	if src.Meta.Image != nil {
		img := *src.Meta.Image
		img.Alt = DecodeEntities(img.Alt)
		doc.Meta.Image = &img
	}

	// Stage 1: Render the body.
	if err := stageRender(&doc, src); err != nil {
		return doc, fmt.Errorf("render: %w", err)
	}

	// Stage 2: Legacy captions and lazy images.
	doc.Body = NormalizeLegacyMarkup(doc.Body)

	// Stage 3: Wide tables.
	doc.Body = WrapWideTables(doc.Body, opts.TableMinColumns)

	// Stage 4: Heading ids and split.
	split := BuildTocAndSplit(doc.Body)
	doc.Body = split.HTML()
	doc.TOC = split.Entries
	doc.SplitAt = len(split.Pre)

	// Stage 5: Excerpt.
	stageExcerpt(&doc, src, opts.excerptWords())

	// Stage 6: Description.
	doc.Desc = capDescription(PlainText(doc.Excerpt))

	// Stage 7: Prepend metadata JSON.
	if err := stagePrependMeta(&doc); err != nil {
		return doc, fmt.Errorf("prepend meta: %w", err)
	}

	return doc, nil
}

func stageRender(doc *Doc, src Source) error {
	switch {
	case src.Tree != nil && src.Tree.Root != nil:
		doc.Body = RenderHTML(src.Tree)
	case src.Markdown != "":
		body, err := MarkdownToHTML(src.Markdown)
		if err != nil {
			return err
		}
		doc.Body = body
	default:
		doc.Body = src.HTML
	}
	return nil
}

// stageExcerpt prefers the CMS excerpt; otherwise the rendered body is
// shortened. Document trees use their own plain-text rendering, escaped so
// the excerpt stays valid HTML.
func stageExcerpt(doc *Doc, src Source, maxWords int) {
	if strings.TrimSpace(src.Meta.Excerpt) != "" {
		doc.Excerpt = ProcessExcerpt(src.Meta.Excerpt, maxWords)
		return
	}
	body := doc.Body
	if src.Tree != nil && src.Tree.Root != nil {
		body = htmlutil.EscapeString(collapseWhitespace(RenderPlainText(src.Tree)))
	}
	doc.Excerpt = strings.TrimSpace(SmartExcerpt(body, maxWords))
}

// stagePrependMeta builds the FragmentMeta JSON and prepends it as a
// <!--META:...--> comment to doc.Body.
func stagePrependMeta(doc *Doc) error {
	fm := FragmentMeta{
		Title:        doc.Meta.Title,
		Slug:         doc.Meta.Slug,
		Description:  doc.Desc,
		Excerpt:      doc.Excerpt,
		Category:     doc.Meta.Category,
		CategorySlug: doc.Meta.CategorySlug,
		Published:    doc.Meta.Published,
		Modified:     doc.Meta.Modified,
		Image:        doc.Meta.Image,
		TOC:          doc.TOC,
		SplitAt:      doc.SplitAt,
	}
	out, err := encodeFragment(fm, doc.Body)
	if err != nil {
		return err
	}
	doc.Fragment = out
	return nil
}
