package search

import (
	"context"
	"time"
)

// Indexer abstracts search indexing so the pipeline package does not depend
// on a specific search implementation.
type Indexer interface {
	IndexArticle(ctx context.Context, doc Document) error
	Close() error
}

// Document represents an article to be indexed for search.
type Document struct {
	Path         string
	Slug         string
	Title        string
	Category     string
	CategorySlug string
	Excerpt      string
	Published    time.Time
	Content      string
}

// publishedLayout sorts lexically in chronological order for UTC times.
const publishedLayout = time.RFC3339

func formatPublished(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(publishedLayout)
}

func parsePublished(s string) time.Time {
	t, err := time.Parse(publishedLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
