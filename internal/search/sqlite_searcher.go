package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"
)

const defaultLimit = 50

type Result struct {
	Title        string    `json:"title"`
	Path         string    `json:"path"`
	Slug         string    `json:"slug"`
	Category     string    `json:"category,omitempty"`
	CategorySlug string    `json:"categorySlug,omitempty"`
	Excerpt      string    `json:"excerpt,omitempty"`
	Published    time.Time `json:"published,omitzero"`
}

type SearchResponse struct {
	Total   uint64   `json:"total"`
	Results []Result `json:"results"`
}

// Category is a distinct category with the number of articles filed in it.
type Category struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

type SQLiteSearcher struct {
	db *sql.DB
}

func NewSQLiteSearcher(path string) (*SQLiteSearcher, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteSearcher{db: db}, nil
}

func (s *SQLiteSearcher) Close() error {
	return s.db.Close()
}

// Search runs a full-text query ranked by relevance. An empty category
// matches all categories.
func (s *SQLiteSearcher) Search(ctx context.Context, queryString string, category string, limit int, offset int) (SearchResponse, error) {
	queryString = sanitizeQuery(queryString)
	if queryString == "" {
		return SearchResponse{Results: []Result{}}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `SELECT a.title, a.path, a.slug, a.category, a.category_slug, a.excerpt, a.published, COUNT(*) OVER() AS total
		 FROM articles_fts f
		 JOIN articles a ON a.rowid = f.rowid
		 WHERE articles_fts MATCH ?`
	args := []any{queryString}

	if category != "" {
		query += ` AND a.category_slug = ?`
		args = append(args, category)
	}

	query += ` ORDER BY f.rank LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return s.query(ctx, query, args...)
}

// Recent lists articles newest first, optionally restricted to a category.
func (s *SQLiteSearcher) Recent(ctx context.Context, category string, limit int, offset int) (SearchResponse, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `SELECT title, path, slug, category, category_slug, excerpt, published, COUNT(*) OVER() AS total
		 FROM articles`
	var args []any
	if category != "" {
		query += ` WHERE category_slug = ?`
		args = append(args, category)
	}
	query += ` ORDER BY published DESC, slug LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return s.query(ctx, query, args...)
}

// Categories returns every non-empty category ordered by name.
func (s *SQLiteSearcher) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT MIN(category), category_slug, COUNT(*)
		 FROM articles
		 WHERE category_slug != ''
		 GROUP BY category_slug
		 ORDER BY MIN(category) COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("categories query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Name, &c.Slug, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func (s *SQLiteSearcher) query(ctx context.Context, query string, args ...any) (SearchResponse, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resp SearchResponse
	resp.Results = make([]Result, 0)

	for rows.Next() {
		var r Result
		var published string
		var total uint64
		if err := rows.Scan(&r.Title, &r.Path, &r.Slug, &r.Category, &r.CategorySlug, &r.Excerpt, &published, &total); err != nil {
			return SearchResponse{}, fmt.Errorf("scan result: %w", err)
		}
		r.Published = parsePublished(published)
		resp.Total = total
		resp.Results = append(resp.Results, r)
	}
	if err := rows.Err(); err != nil {
		return SearchResponse{}, fmt.Errorf("iterate results: %w", err)
	}

	return resp, nil
}

// sanitizeQuery turns free text into an FTS5 prefix query. Letters and
// digits in any script are kept; everything else separates terms.
func sanitizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range q {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r),
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	var filtered []string
	for _, t := range strings.Fields(b.String()) {
		t = strings.Trim(t, "-_")
		if t == "" {
			continue
		}
		switch strings.ToUpper(t) {
		case "AND", "OR", "NOT", "NEAR":
			continue
		}
		filtered = append(filtered, `"`+t+`"*`)
	}
	return strings.Join(filtered, " ")
}
