package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned by FetchArticle when no source has the slug.
var ErrNotFound = errors.New("article not found")

const (
	defaultPageSize = 50
	maxAttempts     = 3
	postsPath       = "/api/posts"
)

// Client reads articles from one or more CMS instances.
type Client struct {
	Sources  []string
	Token    string
	PageSize int
	HTTP     *http.Client
	Limiter  *rate.Limiter
	Logger   *slog.Logger

	// retryDelay is the base of the linear backoff between attempts.
	retryDelay time.Duration
}

// New creates a Client. A non-positive rps disables throttling.
func New(sources []string, token string, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		Sources:    sources,
		Token:      token,
		PageSize:   defaultPageSize,
		HTTP:       http.DefaultClient,
		Limiter:    rate.NewLimiter(limit, 1),
		retryDelay: time.Second,
	}
}

// listResponse is the paginated envelope of the posts endpoint.
type listResponse struct {
	Docs        []Article `json:"docs"`
	Page        int       `json:"page"`
	TotalPages  int       `json:"totalPages"`
	HasNextPage bool      `json:"hasNextPage"`
}

// statusError is a non-2xx response. Server errors are retried.
type statusError struct {
	URL    string
	Status string
	Code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("get %s: status %s", e.URL, e.Status)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// FetchArticles fetches every article from all sources concurrently and
// merges them by slug. When several sources carry the same slug the most
// recently updated copy wins; on equal update times the earlier source
// wins. The result is ordered newest first.
func (c *Client) FetchArticles(ctx context.Context) ([]Article, error) {
	if len(c.Sources) == 0 {
		return nil, errors.New("cms client requires at least one source")
	}

	results := make([][]Article, len(c.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, source := range c.Sources {
		g.Go(func() error {
			c.logInfo("fetching articles", "source", source)
			articles, err := c.fetchSource(gctx, source)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", source, err)
			}
			c.logInfo("fetched articles", "source", source, "count", len(articles))
			results[i] = articles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeArticles(results), nil
}

// FetchArticle returns a single article by slug, trying sources in order.
func (c *Client) FetchArticle(ctx context.Context, slug string) (Article, error) {
	for _, source := range c.Sources {
		q := url.Values{}
		q.Set("where[slug][equals]", slug)
		q.Set("limit", "1")
		q.Set("depth", "1")
		var resp listResponse
		if err := c.getJSON(ctx, endpoint(source, q), &resp); err != nil {
			return Article{}, fmt.Errorf("fetch %s from %s: %w", slug, source, err)
		}
		if len(resp.Docs) > 0 {
			a := resp.Docs[0]
			a.normalize()
			return a, nil
		}
	}
	return Article{}, fmt.Errorf("%s: %w", slug, ErrNotFound)
}

func (c *Client) fetchSource(ctx context.Context, source string) ([]Article, error) {
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	var articles []Article
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("page", strconv.Itoa(page))
		q.Set("depth", "1")
		q.Set("sort", "-publishedAt")

		var resp listResponse
		if err := c.getJSON(ctx, endpoint(source, q), &resp); err != nil {
			return nil, err
		}
		for _, a := range resp.Docs {
			a.normalize()
			if a.Slug == "" {
				c.logWarn("skipping article without slug or title", "source", source, "id", a.ID)
				continue
			}
			articles = append(articles, a)
		}
		if !resp.HasNextPage || len(resp.Docs) == 0 {
			return articles, nil
		}
	}
}

func endpoint(source string, q url.Values) string {
	return strings.TrimSuffix(source, "/") + postsPath + "?" + q.Encode()
}

// getJSON performs a throttled GET and decodes the JSON body into v.
// Transport errors and 5xx responses are retried with linear backoff.
func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			c.logWarn("retrying request", "url", u, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = c.get(ctx, u, v)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) get(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &statusError{URL: u, Status: resp.Status, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

func mergeArticles(perSource [][]Article) []Article {
	bySlug := make(map[string]Article)
	for _, articles := range perSource {
		for _, a := range articles {
			current, ok := bySlug[a.Slug]
			if !ok || a.Modified().After(current.Modified()) {
				bySlug[a.Slug] = a
			}
		}
	}

	merged := make([]Article, 0, len(bySlug))
	for _, a := range bySlug {
		merged = append(merged, a)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].PublishedAt.Equal(merged[j].PublishedAt) {
			return merged[i].PublishedAt.After(merged[j].PublishedAt)
		}
		return merged[i].Slug < merged[j].Slug
	})
	return merged
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.Logger != nil {
		c.Logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.Logger != nil {
		c.Logger.Warn(msg, args...)
	}
}
