package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seb128/cms-article-renderer/internal/config"
	"github.com/seb128/cms-article-renderer/internal/pipeline"
	"github.com/seb128/cms-article-renderer/internal/search"
	"github.com/seb128/cms-article-renderer/internal/storage"
	"github.com/seb128/cms-article-renderer/internal/transform"
)

//go:embed templates/base.html templates/index.html templates/search.html templates/article.html templates/404.html static/site.css
var webAssets embed.FS

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *storage.FSStorage
	index       *template.Template
	searchPage  *template.Template
	articlePage *template.Template
	notFound    *template.Template
	search      *search.SQLiteSearcher
	router      chi.Router
}

func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	searcher, err := search.NewSQLiteSearcher(cfg.IndexPath())
	if err != nil {
		logger.Warn("search index unavailable", "error", err)
	}
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		store:       storage.NewFSStorage(cfg.PublicHTMLDir),
		index:       parsePage("templates/index.html"),
		searchPage:  parsePage("templates/search.html"),
		articlePage: parsePage("templates/article.html"),
		notFound:    parsePage("templates/404.html"),
		search:      searcher,
	}
	s.setupRoutes()
	return s
}

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2 January 2006")
	},
	"isoDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	},
	"pathEscape": url.PathEscape,
	// Excerpts are produced by the ingest pipeline from sanitized article
	// HTML.
	"excerpt": func(s string) template.HTML {
		return template.HTML(s)
	},
}

func parsePage(name string) *template.Template {
	return template.Must(template.New("").Funcs(templateFuncs).ParseFS(webAssets, "templates/base.html", name))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(logRequests(s.logger))
	r.Use(gzipHandler)
	r.NotFound(s.renderNotFound)

	r.Get("/healthz", s.handleHealth)
	r.Get("/robots.txt", s.handleRobotsTxt)
	r.Get("/llms.txt", s.handleLlmsTxt)
	r.Get("/api/search", s.handleSearch)
	r.Get("/search", s.handleSearchPage)
	r.Get("/", s.handleIndex)
	r.Get("/category/{category}", s.handleCategory)

	staticFS, _ := fs.Sub(webAssets, "static")
	r.Handle("/static/*", staticCacheHandler(computeStaticETag(),
		http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))),
	))
	sitemapDir := filepath.Join(s.cfg.PublicHTMLDir, "sitemaps")
	r.Handle("/sitemaps/*", http.StripPrefix("/sitemaps/", http.FileServer(http.Dir(sitemapDir))))

	r.Get("/{slug}", s.handleArticle)

	s.router = r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return s.Close()
}

func (s *Server) Close() error {
	if s.search == nil {
		return nil
	}
	return s.search.Close()
}

func (s *Server) basePage(nav string) page {
	return page{
		SiteName:  s.cfg.SiteName,
		SiteURL:   s.cfg.SiteURL(),
		ActiveNav: nav,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	view := listView{page: s.basePage("home"), BasePath: "/"}
	view.Title = s.cfg.SiteName
	view.CanonicalURL = view.SiteURL + "/"
	view.JSONLD = buildIndexJSONLD(view.SiteURL, s.cfg.SiteName)
	s.renderList(w, r, &view, "")
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	view := listView{page: s.basePage("category"), BasePath: "/category/" + url.PathEscape(category)}
	view.CanonicalURL = view.SiteURL + view.BasePath
	s.renderList(w, r, &view, category)
}

// renderList renders a page of recent articles. Category pages without
// any article are not found.
func (s *Server) renderList(w http.ResponseWriter, r *http.Request, view *listView, category string) {
	view.Page = parseIntQuery(r, "page", 1)
	if view.Page < 1 {
		view.Page = 1
	}
	limit := s.cfg.PageSize
	offset := (view.Page - 1) * limit

	if s.search != nil {
		results, err := s.search.Recent(r.Context(), category, limit, offset)
		if err != nil {
			s.logger.Error("list articles failed", "category", category, "error", err)
		} else {
			view.Results = results.Results
			view.Total = results.Total
		}
	}

	if category != "" {
		if len(view.Results) == 0 {
			s.renderNotFound(w, r)
			return
		}
		view.Title = view.Results[0].Category
		view.Heading = view.Title
		view.JSONLD = buildJSONLD(buildBreadcrumbJSONLD(view.SiteURL, []breadcrumb{
			{Label: view.Title, Href: view.BasePath},
		}))
	}
	if view.Page > 1 {
		view.PrevPage = view.Page - 1
	}
	if uint64(offset+len(view.Results)) < view.Total {
		view.NextPage = view.Page + 1
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", "index", "error", err)
	}
}

func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	view := searchView{
		page:     s.basePage("search"),
		Query:    r.URL.Query().Get("q"),
		Category: r.URL.Query().Get("category"),
	}
	view.Title = "Search"
	view.CanonicalURL = view.SiteURL + "/search"

	if view.Query != "" {
		if s.search == nil {
			view.SearchError = true
		} else {
			results, err := s.search.Search(r.Context(), view.Query, view.Category, s.cfg.PageSize, 0)
			if err != nil {
				s.logger.Error("search failed", "query", view.Query, "error", err)
				view.SearchError = true
			} else {
				view.Total = results.Total
				view.Results = results.Results
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.searchPage.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", "search", "error", err)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "search index unavailable")
		return
	}

	query := r.URL.Query().Get("q")
	category := r.URL.Query().Get("category")
	limit := parseIntQuery(r, "limit", s.cfg.PageSize)
	offset := parseIntQuery(r, "offset", 0)

	results, err := s.search.Search(r.Context(), query, category, limit, offset)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleArticle serves /{slug} as a full page, /{slug}.txt as plain text
// and /{slug}.md as Markdown.
func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	slug, err := url.PathUnescape(chi.URLParam(r, "slug"))
	if err != nil {
		s.renderNotFound(w, r)
		return
	}

	format := "html"
	if base, ok := strings.CutSuffix(slug, ".txt"); ok {
		slug, format = base, "txt"
	} else if base, ok := strings.CutSuffix(slug, ".md"); ok {
		slug, format = base, "md"
	}

	meta, body, err := s.loadArticle(slug)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, pipeline.ErrInvalidSlug) {
			s.logger.Error("load article failed", "slug", slug, "error", err)
		}
		s.renderNotFound(w, r)
		return
	}

	switch format {
	case "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "%s\n\n%s\n", meta.Title, transform.PlainText(body))
	case "md":
		md, err := transform.HTMLToMarkdown(body)
		if err != nil {
			s.logger.Error("markdown conversion failed", "slug", slug, "error", err)
			http.Error(w, "markdown conversion failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# %s\n\n%s\n", meta.Title, md)
	default:
		s.serveArticle(w, meta, body)
	}
}

func (s *Server) loadArticle(slug string) (transform.FragmentMeta, string, error) {
	p, err := pipeline.ArticlePath(slug)
	if err != nil {
		return transform.FragmentMeta{}, "", err
	}
	raw, err := s.store.ReadHTML(p)
	if err != nil {
		return transform.FragmentMeta{}, "", err
	}
	meta, body, err := transform.ParseFragment(string(raw))
	if err != nil {
		return meta, "", err
	}
	if meta.Slug == "" {
		meta.Slug = slug
	}
	if meta.Title == "" {
		meta.Title = slug
	}
	return meta, body, nil
}

func (s *Server) serveArticle(w http.ResponseWriter, meta transform.FragmentMeta, body string) {
	view := articleView{
		page:         s.basePage("article"),
		Category:     meta.Category,
		CategorySlug: meta.CategorySlug,
		Published:    meta.Published,
		Modified:     meta.Modified,
		Image:        meta.Image,
		Pre:          template.HTML(body[:meta.SplitAt]),
		Post:         template.HTML(body[meta.SplitAt:]),
	}
	view.Title = meta.Title
	view.Description = meta.Description
	view.CanonicalURL = view.SiteURL + "/" + url.PathEscape(meta.Slug)
	if len(meta.TOC) > 0 && len(meta.TOC) >= s.cfg.TOCMinEntries {
		view.TOC = template.HTML(transform.RenderTOC(meta.TOC))
	}
	view.JSONLD = buildArticleJSONLD(view.page, meta)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.articlePage.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", "article", "error", err)
	}
}

func (s *Server) renderNotFound(w http.ResponseWriter, r *http.Request) {
	view := s.basePage("")
	view.Title = "Not found"
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if err := s.notFound.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", "404", "error", err)
	}
}

func (s *Server) handleRobotsTxt(w http.ResponseWriter, _ *http.Request) {
	siteURL := s.cfg.SiteURL()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, `User-agent: *
Allow: /
Disallow: /api/
Disallow: /healthz

Sitemap: %s/sitemaps/sitemap-index.xml
`, siteURL)
}

func (s *Server) handleLlmsTxt(w http.ResponseWriter, r *http.Request) {
	siteURL := s.cfg.SiteURL()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	_, _ = fmt.Fprintf(w, `# %[2]s

## Content Structure

- %[1]s/{slug}: individual article
- %[1]s/category/{category}: articles in a category
- %[1]s/search?q={query}: search across all articles

## Plain Text

Append .txt or .md to any article URL for plain text or Markdown output:
- %[1]s/{slug}.txt
- %[1]s/{slug}.md
`, siteURL, s.cfg.SiteName)

	if s.search != nil {
		categories, err := s.search.Categories(r.Context())
		if err != nil {
			s.logger.Warn("list categories failed", "error", err)
		} else if len(categories) > 0 {
			_, _ = fmt.Fprint(w, "\n## Categories\n\n")
			for _, c := range categories {
				_, _ = fmt.Fprintf(w, "- %s (%d): %s/category/%s\n", c.Name, c.Count, siteURL, url.PathEscape(c.Slug))
			}
		}
	}

	_, _ = fmt.Fprint(w, `
## API

- GET /api/search?q={query}&category={category}&limit={n}&offset={n}
  Returns JSON with fields: total, results (array of {title, path, slug, category, categorySlug, excerpt, published})
`)
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
