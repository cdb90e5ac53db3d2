package cms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/seb128/cms-article-renderer/internal/transform"
)

// Article is one post as returned by the CMS REST API with depth=1.
type Article struct {
	ID            ID              `json:"id"`
	Title         string          `json:"title"`
	Slug          string          `json:"slug"`
	Excerpt       string          `json:"excerpt"`
	Content       json.RawMessage `json:"content"`
	ContentHTML   string          `json:"contentHtml"`
	Markdown      string          `json:"markdown"`
	Category      *Category       `json:"category"`
	FeaturedImage *Media          `json:"featuredImage"`
	PublishedAt   time.Time       `json:"publishedAt"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ID accepts both numeric and string document ids.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Category is a populated category relation. An unpopulated relation (a
// bare id) decodes to an empty Category.
type Category struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (c *Category) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '{' {
		*c = Category{}
		return nil
	}
	type plain Category
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("category: %w", err)
	}
	*c = Category(p)
	return nil
}

// Media is a populated upload relation.
type Media struct {
	URL    string `json:"url"`
	Alt    string `json:"alt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (m *Media) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '{' {
		*m = Media{}
		return nil
	}
	type plain Media
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("media: %w", err)
	}
	*m = Media(p)
	return nil
}

// normalize fills derived fields after decoding.
func (a *Article) normalize() {
	a.Slug = strings.TrimSpace(a.Slug)
	if a.Slug == "" && a.Title != "" {
		a.Slug = slug.Make(transform.DecodeEntities(a.Title))
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = a.CreatedAt
	}
	if a.Category != nil && a.Category.Slug == "" && a.Category.Name != "" {
		a.Category.Slug = slug.Make(a.Category.Name)
	}
}

// Modified returns the last update time, falling back to publication.
func (a Article) Modified() time.Time {
	if a.UpdatedAt.IsZero() {
		return a.PublishedAt
	}
	return a.UpdatedAt
}

// Source converts the article into pipeline input. Content may be a
// rich-text document (JSON object) or pre-rendered HTML (JSON string);
// contentHtml and markdown are used when content is empty. Only content of
// an unsupported JSON type is an error.
func (a Article) Source() (transform.Source, error) {
	src := transform.Source{
		Meta: transform.ArticleMeta{
			Title:     a.Title,
			Slug:      a.Slug,
			Published: a.PublishedAt,
			Modified:  a.Modified(),
			Excerpt:   a.Excerpt,
		},
		HTML:     a.ContentHTML,
		Markdown: a.Markdown,
	}
	if a.Category != nil {
		src.Meta.Category = a.Category.Name
		src.Meta.CategorySlug = a.Category.Slug
	}
	if a.FeaturedImage != nil && a.FeaturedImage.URL != "" {
		src.Meta.Image = &transform.Image{
			URL:    a.FeaturedImage.URL,
			Alt:    a.FeaturedImage.Alt,
			Width:  a.FeaturedImage.Width,
			Height: a.FeaturedImage.Height,
		}
	}

	content := bytes.TrimSpace(a.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
	case content[0] == '{':
		// Malformed nodes decode as empty ones. A tree that is not JSON
		// at all leaves the HTML and Markdown fallbacks in place.
		if tree, err := transform.ParseDocument(content); err == nil {
			src.Tree = tree
		}
	case content[0] == '"':
		var s string
		if err := json.Unmarshal(content, &s); err != nil {
			return src, fmt.Errorf("article %s: content: %w", a.Slug, err)
		}
		if s != "" {
			src.HTML = s
			src.Markdown = ""
		}
	default:
		return src, fmt.Errorf("article %s: unsupported content type", a.Slug)
	}
	return src, nil
}
