package transform

import "time"

// DefaultExcerptWords is the word budget used for list-view excerpts when
// none is configured.
const DefaultExcerptWords = 55

// Image is a featured image reference.
type Image struct {
	URL    string `json:"url"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// ArticleMeta holds the CMS metadata of an article. It is carried into the
// fragment header but never influences how the body is rendered.
type ArticleMeta struct {
	Title        string
	Slug         string
	Category     string
	CategorySlug string
	Published    time.Time
	Modified     time.Time
	Image        *Image
	Excerpt      string // CMS-provided excerpt, may be empty
}

// Source is the raw content of one article. Exactly one of Tree, Markdown
// or HTML is rendered, in that order of preference.
type Source struct {
	Meta     ArticleMeta
	Tree     *Document
	Markdown string
	HTML     string
}

// Options tunes the pipeline. Zero values select the defaults.
type Options struct {
	ExcerptWords    int
	TableMinColumns int
}

func (o Options) excerptWords() int {
	if o.ExcerptWords <= 0 {
		return DefaultExcerptWords
	}
	return o.ExcerptWords
}
