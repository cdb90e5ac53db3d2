package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/seb128/cms-article-renderer/internal/cms"
	"github.com/seb128/cms-article-renderer/internal/search"
	"github.com/seb128/cms-article-renderer/internal/sitemap"
	"github.com/seb128/cms-article-renderer/internal/storage"
	"github.com/seb128/cms-article-renderer/internal/transform"
)

const defaultWorkers = 4

// ArticleSource lists the articles to ingest.
type ArticleSource interface {
	FetchArticles(ctx context.Context) ([]cms.Article, error)
}

type Runner struct {
	Source           ArticleSource
	Indexer          search.Indexer
	Storage          *storage.FSStorage
	SitemapGenerator *sitemap.SitemapGenerator
	Logger           *slog.Logger
	Options          transform.Options
	FailuresPath     string
	Workers          int
	ForceProcess     bool
	// Prune removes stored fragments whose article no longer exists.
	Prune bool

	mu       sync.Mutex
	status   Status
	failures []string
}

// Status returns a snapshot of the run's progress.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Failures returns the per-article failure messages recorded so far.
func (r *Runner) Failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.failures...)
}

// Run fetches every article and renders, stores and indexes it. Failures
// caused by a single article are recorded and skipped; storage and index
// errors abort the run.
func (r *Runner) Run(ctx context.Context) (err error) {
	if r.Source == nil || r.Storage == nil {
		return errors.New("pipeline runner missing dependencies")
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.DiscardHandler)
	}

	defer func() {
		if r.Indexer != nil {
			err = multierr.Append(err, wrapErr("close indexer", r.Indexer.Close()))
		}
		r.mu.Lock()
		if err != nil {
			r.status.Stage = "error"
		} else {
			r.status.Stage = "done"
		}
		r.mu.Unlock()
	}()

	r.mu.Lock()
	r.status = Status{Stage: "fetching", FailuresPath: r.FailuresPath}
	r.failures = nil
	r.mu.Unlock()

	// Create the failure log up front so users can tail it during processing.
	if r.FailuresPath != "" {
		_ = os.MkdirAll(filepath.Dir(r.FailuresPath), 0o755)
		_ = os.WriteFile(r.FailuresPath, nil, 0o644)
	}

	r.Logger.Info("fetching articles")
	articles, err := r.Source.FetchArticles(ctx)
	if err != nil {
		return fmt.Errorf("fetch articles: %w", err)
	}

	r.mu.Lock()
	r.status.Stage = "processing"
	r.status.Total = len(articles)
	r.mu.Unlock()

	workers := r.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, article := range articles {
		g.Go(func() error {
			defer func() {
				r.mu.Lock()
				r.status.Done++
				r.mu.Unlock()
			}()
			err := r.processArticle(gctx, article)
			var ae *ArticleError
			if errors.As(err, &ae) {
				r.recordFailure(ae.Slug, ae.Unwrap())
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if r.Prune {
		if err := r.prune(ctx, articles); err != nil {
			return err
		}
	}

	if r.SitemapGenerator != nil {
		if err := r.SitemapGenerator.Generate(ctx, categorySlugs(articles)); err != nil {
			// Non-fatal: don't fail the entire ingest for a sitemap error.
			r.Logger.Error("sitemap generation failed", "error", err)
		}
	}

	s := r.Status()
	if s.Errors > 0 {
		r.Logger.Warn("ingest completed with failures", "count", s.Errors, "log", s.FailuresPath)
	}
	r.Logger.Info("ingest done", "total", s.Total, "skipped", s.Skipped, "errors", s.Errors, "pruned", s.Pruned)
	return nil
}

func (r *Runner) processArticle(ctx context.Context, article cms.Article) error {
	r.Logger.Debug("processing article", "slug", article.Slug, "id", article.ID)

	if err := ValidateSlug(article.Slug); err != nil {
		return &ArticleError{Slug: article.Slug, Err: err}
	}

	hash, err := ContentHash(article, r.Options)
	if err != nil {
		return &ArticleError{Slug: article.Slug, Err: fmt.Errorf("hash: %w", err)}
	}

	if !r.ForceProcess && r.Storage.CheckCache(article.Slug, hash) {
		// The index is rebuilt on every run, so unchanged articles are
		// indexed from their stored fragment.
		err := r.indexStored(ctx, article.Slug)
		if err == nil {
			r.Logger.Debug("skipping unchanged article", "slug", article.Slug)
			r.mu.Lock()
			r.status.Skipped++
			r.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		r.Logger.Warn("stored fragment unusable, reprocessing", "slug", article.Slug, "error", err)
	}

	if _, err := ProcessArticle(ctx, article, r.Options, r.Storage, r.Indexer); err != nil {
		return err
	}

	if err := r.Storage.WriteCache(ctx, article.Slug, hash); err != nil {
		return fmt.Errorf("write cache for %s: %w", article.Slug, err)
	}
	return nil
}

func (r *Runner) indexStored(ctx context.Context, slug string) error {
	path, err := ArticlePath(slug)
	if err != nil {
		return err
	}
	raw, err := r.Storage.ReadHTML(path)
	if err != nil {
		return err
	}
	meta, body, err := transform.ParseFragment(string(raw))
	if err != nil {
		return err
	}
	if r.Indexer == nil {
		return nil
	}
	return r.Indexer.IndexArticle(ctx, indexDocument(path, meta, body))
}

// ProcessArticle renders a single article, writes its fragment to storage
// and adds it to the index when indexer is non-nil. Failures caused by the
// article itself are returned as *ArticleError.
func ProcessArticle(ctx context.Context, article cms.Article, opts transform.Options, store *storage.FSStorage, indexer search.Indexer) (transform.Doc, error) {
	path, err := ArticlePath(article.Slug)
	if err != nil {
		return transform.Doc{}, &ArticleError{Slug: article.Slug, Err: err}
	}

	src, err := article.Source()
	if err != nil {
		return transform.Doc{}, &ArticleError{Slug: article.Slug, Err: err}
	}

	doc, err := transform.Pipeline(src, opts)
	if err != nil {
		return doc, &ArticleError{Slug: article.Slug, Err: fmt.Errorf("transform: %w", err)}
	}

	if err := store.WriteHTML(ctx, path, []byte(doc.Fragment)); err != nil {
		return doc, fmt.Errorf("write html %s: %w", path, err)
	}

	if indexer != nil {
		meta, body, err := transform.ParseFragment(doc.Fragment)
		if err != nil {
			return doc, fmt.Errorf("reparse %s: %w", path, err)
		}
		if err := indexer.IndexArticle(ctx, indexDocument(path, meta, body)); err != nil {
			return doc, fmt.Errorf("index article %s: %w", path, err)
		}
	}

	return doc, nil
}

func indexDocument(path string, meta transform.FragmentMeta, body string) search.Document {
	return search.Document{
		Path:         "/" + path,
		Slug:         meta.Slug,
		Title:        meta.Title,
		Category:     meta.Category,
		CategorySlug: meta.CategorySlug,
		Excerpt:      meta.Excerpt,
		Published:    meta.Published,
		Content:      transform.PlainText(body),
	}
}

// ContentHash fingerprints an article together with the options that
// affect its rendering.
func ContentHash(article cms.Article, opts transform.Options) (string, error) {
	h := xxhash.New()
	enc := json.NewEncoder(h)
	if err := enc.Encode(article); err != nil {
		return "", err
	}
	if err := enc.Encode(opts); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// prune removes fragments that are no longer published.
func (r *Runner) prune(ctx context.Context, articles []cms.Article) error {
	r.mu.Lock()
	r.status.Stage = "pruning"
	r.mu.Unlock()

	live := make(map[string]bool, len(articles))
	for _, a := range articles {
		live[a.Slug] = true
	}
	stored, err := r.Storage.ListArticles()
	if err != nil {
		return err
	}
	for _, slug := range stored {
		if live[slug] {
			continue
		}
		path, err := ArticlePath(slug)
		if err != nil {
			continue
		}
		if err := r.Storage.Remove(ctx, path); err != nil {
			return fmt.Errorf("prune %s: %w", slug, err)
		}
		r.Logger.Info("pruned article", "slug", slug)
		r.mu.Lock()
		r.status.Pruned++
		r.mu.Unlock()
	}
	return nil
}

func (r *Runner) recordFailure(slug string, err error) {
	message := strings.TrimSpace(fmt.Sprintf("article %s: %v", slug, err))
	r.mu.Lock()
	r.failures = append(r.failures, message)
	r.status.Errors++
	failPath := r.status.FailuresPath
	r.mu.Unlock()

	// Append to the failure log immediately so users can tail it.
	if failPath != "" {
		f, ferr := os.OpenFile(failPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr == nil {
			_, _ = fmt.Fprintln(f, message)
			_ = f.Close()
		}
	}

	r.Logger.Warn("pipeline failure", "slug", slug, "error", err)
}

func categorySlugs(articles []cms.Article) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range articles {
		if a.Category == nil || a.Category.Slug == "" || seen[a.Category.Slug] {
			continue
		}
		seen[a.Category.Slug] = true
		out = append(out, a.Category.Slug)
	}
	sort.Strings(out)
	return out
}

func wrapErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
