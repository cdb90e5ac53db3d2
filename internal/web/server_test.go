package web

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seb128/cms-article-renderer/internal/cms"
	"github.com/seb128/cms-article-renderer/internal/config"
	"github.com/seb128/cms-article-renderer/internal/pipeline"
	"github.com/seb128/cms-article-renderer/internal/search"
	"github.com/seb128/cms-article-renderer/internal/storage"
	"github.com/seb128/cms-article-renderer/internal/transform"
)

var testArticles = []string{
	`{"id":1,"title":"Getting started","slug":"getting-started","category":{"name":"Guides","slug":"guides"},
		"publishedAt":"2024-05-01T08:00:00Z","excerpt":"How to begin.",
		"featuredImage":{"url":"/media/start.jpg","alt":"A road","width":1200,"height":600},
		"contentHtml":"<p>Welcome aboard.</p><h2>Install</h2><p>Run the installer.</p><h2>Configure</h2><p>Edit the file.</p>"}`,
	`{"id":2,"title":"Release notes","slug":"release-notes","category":{"name":"News","slug":"news"},
		"publishedAt":"2024-06-01T08:00:00Z","markdown":"Plain intro without headings and **bold** text."}`,
}

func testServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Site:          "https://blog.example.com",
		SiteName:      "Example Blog",
		PublicHTMLDir: dir,
		IndexDir:      filepath.Join(dir, "index", "search.db"),
		PageSize:      1,
		TOCMinEntries: 2,
	}

	indexer, err := search.NewSQLiteIndexer(cfg.IndexPath())
	if err != nil {
		t.Fatal(err)
	}
	store := storage.NewFSStorage(dir)
	for _, raw := range testArticles {
		var a cms.Article
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			t.Fatal(err)
		}
		if _, err := pipeline.ProcessArticle(context.Background(), a, transform.Options{}, store, indexer); err != nil {
			t.Fatal(err)
		}
	}
	if err := indexer.Close(); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(cfg, logger)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, cfg
}

func get(t *testing.T, h http.Handler, target string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHandleRobotsTxt(t *testing.T) {
	srv, _ := testServer(t)

	resp, text := get(t, srv, "/robots.txt")

	if resp.Header.Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type: %s", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(text, "User-agent: *") {
		t.Error("missing User-agent line")
	}
	if !strings.Contains(text, "Disallow: /api/") {
		t.Error("missing Disallow /api/")
	}
	if !strings.Contains(text, "Sitemap: https://blog.example.com/sitemaps/sitemap-index.xml") {
		t.Errorf("missing or incorrect Sitemap line, got:\n%s", text)
	}
}

func TestHandleLlmsTxt(t *testing.T) {
	srv, _ := testServer(t)

	_, text := get(t, srv, "/llms.txt")

	if !strings.Contains(text, "# Example Blog") {
		t.Error("missing title")
	}
	if !strings.Contains(text, "- Guides (1): https://blog.example.com/category/guides") {
		t.Errorf("missing category listing, got:\n%s", text)
	}
	if !strings.Contains(text, "/api/search") {
		t.Error("missing API documentation")
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := get(t, srv, "/healthz")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", resp.StatusCode, body)
	}
}

func TestServeArticle(t *testing.T) {
	srv, _ := testServer(t)

	resp, text := get(t, srv, "/getting-started")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, want := range []string{
		"<title>Getting started | Example Blog</title>",
		`<link rel="canonical" href="https://blog.example.com/getting-started">`,
		`<meta name="description" content="How to begin.">`,
		`<nav class="toc" aria-label="Contents">`,
		`href="#install"`,
		`id="configure"`,
		`<img class="featured" src="/media/start.jpg" alt="A road" width="1200" height="600">`,
		`"@type":"BlogPosting"`,
		`<a href="/category/guides">Guides</a>`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("article page missing %q", want)
		}
	}

	// The table of contents sits between the intro and the first heading.
	intro := strings.Index(text, "<p>Welcome aboard.</p>")
	toc := strings.Index(text, `<nav class="toc"`)
	heading := strings.Index(text, `<h2 `)
	if intro < 0 || toc < intro || heading < toc {
		t.Errorf("unexpected order: intro=%d toc=%d heading=%d", intro, toc, heading)
	}
}

func TestServeArticleTOCThreshold(t *testing.T) {
	srv, cfg := testServer(t)
	cfg.TOCMinEntries = 3

	_, text := get(t, srv, "/getting-started")
	if strings.Contains(text, `class="toc"`) {
		t.Error("table of contents should be hidden below the threshold")
	}
	if !strings.Contains(text, `id="install"`) {
		t.Error("heading ids must be kept without a table of contents")
	}
}

func TestServeArticleText(t *testing.T) {
	srv, _ := testServer(t)

	resp, text := get(t, srv, "/getting-started.txt")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type: %s", resp.Header.Get("Content-Type"))
	}
	if !strings.HasPrefix(text, "Getting started\n\n") {
		t.Errorf("expected title first, got: %q", text)
	}
	if strings.Contains(text, "<") {
		t.Errorf("plain text should not contain HTML tags: %s", text)
	}
	if !strings.Contains(text, "Run the installer.") {
		t.Errorf("missing body text: %s", text)
	}
}

func TestServeArticleMarkdown(t *testing.T) {
	srv, _ := testServer(t)

	resp, text := get(t, srv, "/release-notes.md")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(text, "# Release notes\n\n") {
		t.Errorf("expected Markdown title, got: %q", text)
	}
	if !strings.Contains(text, "**bold**") {
		t.Errorf("expected bold Markdown, got: %s", text)
	}
}

func TestServeArticleNotFound(t *testing.T) {
	srv, _ := testServer(t)

	for _, target := range []string{"/missing", "/missing.txt", "/.cache", "/..%2Fsearch.db"} {
		resp, _ := get(t, srv, target)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, resp.StatusCode)
		}
	}
}

func TestHandleIndexPagination(t *testing.T) {
	srv, _ := testServer(t)

	_, text := get(t, srv, "/")
	if !strings.Contains(text, `<a href="/release-notes">Release notes</a>`) {
		t.Errorf("expected newest article first, got:\n%s", text)
	}
	if strings.Contains(text, "Getting started") {
		t.Error("page size of 1 should hide the older article")
	}
	if !strings.Contains(text, `<div class="card-excerpt"><p>Plain intro without headings and <strong>bold</strong> text.</p></div>`) {
		t.Errorf("expected the HTML excerpt on the card, got:\n%s", text)
	}
	if !strings.Contains(text, `href="/?page=2"`) {
		t.Error("missing link to the next page")
	}

	_, text = get(t, srv, "/?page=2")
	if !strings.Contains(text, `<a href="/getting-started">Getting started</a>`) {
		t.Errorf("expected older article on page 2, got:\n%s", text)
	}
	if !strings.Contains(text, `<div class="card-excerpt">How to begin.</div>`) {
		t.Errorf("expected the CMS excerpt on the card, got:\n%s", text)
	}
	if !strings.Contains(text, `href="/?page=1"`) {
		t.Error("missing link to the previous page")
	}
}

func TestHandleCategory(t *testing.T) {
	srv, _ := testServer(t)

	resp, text := get(t, srv, "/category/guides")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(text, "<h1>Guides</h1>") || !strings.Contains(text, "Getting started") {
		t.Errorf("unexpected category page:\n%s", text)
	}
	if strings.Contains(text, "Release notes") {
		t.Error("category page lists an article from another category")
	}

	resp, _ = get(t, srv, "/category/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for empty category, got %d", resp.StatusCode)
	}
}

func TestHandleSearchAPI(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := get(t, srv, "/api/search?q=installer")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var results search.SearchResponse
	if err := json.Unmarshal([]byte(body), &results); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if results.Total != 1 || results.Results[0].Slug != "getting-started" {
		t.Fatalf("unexpected results: %+v", results)
	}

	srv.search = nil
	resp, _ = get(t, srv, "/api/search?q=installer")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without index, got %d", resp.StatusCode)
	}
}

func TestHandleSearchPage(t *testing.T) {
	srv, _ := testServer(t)

	resp, text := get(t, srv, "/search")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if strings.Contains(text, "result-count") {
		t.Error("should not show results summary without a query")
	}

	_, text = get(t, srv, "/search?q=bold")
	if !strings.Contains(text, "1 result for") || !strings.Contains(text, "Release notes") {
		t.Errorf("unexpected search page:\n%s", text)
	}
	if !strings.Contains(text, `<strong>bold</strong> text.</p></div>`) || strings.Contains(text, "…") {
		t.Errorf("expected the untruncated HTML excerpt, got:\n%s", text)
	}
}

func TestHandleSearchPageNoIndex(t *testing.T) {
	srv, _ := testServer(t)
	srv.search = nil

	resp, text := get(t, srv, "/search?q=install")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(text, "Search is currently unavailable") {
		t.Error("expected unavailable message when search index is nil")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := testServer(t)

	var buf bytes.Buffer
	srv.logger = slog.New(slog.NewTextHandler(&buf, nil))
	srv.setupRoutes()

	resp, _ := get(t, srv, "/healthz")
	id := resp.Header.Get(requestIDHeader)
	if len(id) != 36 {
		t.Fatalf("expected a UUID request id, got %q", id)
	}
	if !strings.Contains(buf.String(), "id="+id) {
		t.Errorf("expected request id in log, got: %s", buf.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "7d444840-9dc0-11d1-b245-5ffdce74fad2")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "7d444840-9dc0-11d1-b245-5ffdce74fad2" {
		t.Errorf("expected incoming request id to be kept, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "<script>")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got == "<script>" {
		t.Error("malformed request ids must be replaced")
	}
}

func TestLogRequestsStatus200(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := logRequests(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "status=200") {
		t.Errorf("expected status=200 in log, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "duration=") {
		t.Errorf("expected duration in log, got: %s", logOutput)
	}
}

func TestLogRequestsStatus404(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := logRequests(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !strings.Contains(buf.String(), "status=404") {
		t.Errorf("expected status=404 in log, got: %s", buf.String())
	}
}

func TestLogRequestsImplicit200(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := logRequests(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello")) // implicit 200
	}))

	req := httptest.NewRequest(http.MethodGet, "/implicit", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("expected status=200 in log, got: %s", buf.String())
	}
}

func TestResponseWriterImplementsFlusher(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, ok := any(rw).(http.Flusher); !ok {
		t.Error("responseWriter should implement http.Flusher")
	}
}

func TestStaticAssetCacheHeaders(t *testing.T) {
	staticFS, _ := fs.Sub(webAssets, "static")
	etag := computeStaticETag()
	handler := staticCacheHandler(etag,
		http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))),
	)

	resp, _ := get(t, handler, "/static/site.css")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Errorf("unexpected Cache-Control: %s", cc)
	}
	if got := resp.Header.Get("ETag"); got != etag {
		t.Errorf("expected ETag %s, got %s", etag, got)
	}
}

func TestStaticAssetConditionalRequest(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/static/site.css", nil)
	req.Header.Set("If-None-Match", computeStaticETag())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", w.Code)
	}
}

func TestComputeStaticETagDeterministic(t *testing.T) {
	etag1 := computeStaticETag()
	etag2 := computeStaticETag()
	if etag1 != etag2 {
		t.Errorf("ETag should be deterministic: %s != %s", etag1, etag2)
	}
	if !strings.HasPrefix(etag1, `"`) || !strings.HasSuffix(etag1, `"`) {
		t.Errorf("ETag should be quoted: %s", etag1)
	}
}

func TestGzipCompressesHTMLResponse(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello world</body></html>"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected Content-Encoding: gzip, got %q", resp.Header.Get("Content-Encoding"))
	}

	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("failed to create gzip reader: %v", err)
	}
	defer func() { _ = gr.Close() }()
	body, _ := io.ReadAll(gr)
	if !strings.Contains(string(body), "hello world") {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestGzipSkipsWithoutAcceptEncoding(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("hello"))
	}))

	// No Accept-Encoding header.
	resp, body := get(t, handler, "/")
	if resp.Header.Get("Content-Encoding") == "gzip" {
		t.Error("should not gzip without Accept-Encoding")
	}
	if body != "hello" {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestGzipSkipsImages(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/x.png", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "" {
		t.Error("images should not be compressed")
	}
	if w.Body.String() != "png" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestBuildArticleJSONLD(t *testing.T) {
	p := page{SiteName: "Example Blog", SiteURL: "https://blog.example.com", CanonicalURL: "https://blog.example.com/a"}
	meta := transform.FragmentMeta{Title: "A", Slug: "a", Category: "Guides", CategorySlug: "guides"}

	got := string(buildArticleJSONLD(p, meta))

	if !strings.HasPrefix(got, `<script type="application/ld+json">[`) {
		t.Fatalf("expected a JSON-LD array, got: %s", got)
	}
	for _, want := range []string{`"BreadcrumbList"`, `"item":"https://blog.example.com/category/guides"`, `"articleSection":"Guides"`} {
		if !strings.Contains(got, want) {
			t.Errorf("JSON-LD missing %s: %s", want, got)
		}
	}
	if strings.Contains(got, "datePublished") {
		t.Errorf("zero dates should be omitted: %s", got)
	}
}

func TestBuildIndexJSONLD(t *testing.T) {
	got := string(buildIndexJSONLD("https://blog.example.com", "Example Blog"))
	if !strings.Contains(got, `"SearchAction"`) || !strings.Contains(got, `"name":"Example Blog"`) {
		t.Errorf("unexpected JSON-LD: %s", got)
	}
}
