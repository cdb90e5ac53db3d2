package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/seb128/cms-article-renderer/internal/cms"
	"github.com/seb128/cms-article-renderer/internal/config"
	"github.com/seb128/cms-article-renderer/internal/logging"
	"github.com/seb128/cms-article-renderer/internal/pipeline"
	"github.com/seb128/cms-article-renderer/internal/storage"
	"github.com/seb128/cms-article-renderer/internal/transform"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config YAML")
	logLevel := flag.String("log-level", "debug", "Log level (debug, info, warn, error)")
	slug := flag.String("slug", "", "Slug of the article to process (required)")
	output := flag.String("output", "", "Override public HTML output directory")
	dryRun := flag.Bool("dry-run", false, "Print the rendered fragment instead of storing it")
	flag.Parse()

	logger := logging.BuildLogger(*logLevel, "text")

	if *slug == "" {
		fmt.Fprintf(os.Stderr, "Usage: ingest-article --slug <slug>\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(logger, *configPath, *slug, *output, *dryRun); err != nil {
		logger.Error("ingest-article failed", "error", err)
		os.Exit(1)
	}
}

// run renders a single article. The search index is left untouched; it is
// rebuilt by the next full ingest.
func run(logger *slog.Logger, configPath, slug, output string, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if output != "" {
		cfg.PublicHTMLDir = output
	}

	client := cms.New(cfg.Sources, cfg.APIToken, cfg.RequestsPerSecond)
	client.Logger = logger

	ctx := context.Background()

	logger.Info("fetching article", "slug", slug)
	article, err := client.FetchArticle(ctx, slug)
	if err != nil {
		return err
	}

	opts := transform.Options{
		ExcerptWords:    cfg.ExcerptWords,
		TableMinColumns: cfg.TableMinColumns,
	}

	if dryRun {
		src, err := article.Source()
		if err != nil {
			return err
		}
		doc, err := transform.Pipeline(src, opts)
		if err != nil {
			return fmt.Errorf("transform %s: %w", slug, err)
		}
		_, err = fmt.Fprintln(os.Stdout, doc.Fragment)
		return err
	}

	store := storage.NewFSStorage(cfg.PublicHTMLDir)
	doc, err := pipeline.ProcessArticle(ctx, article, opts, store, nil)
	if err != nil {
		return err
	}

	hash, err := pipeline.ContentHash(article, opts)
	if err != nil {
		return err
	}
	if err := store.WriteCache(ctx, article.Slug, hash); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}

	logger.Info("article stored",
		"slug", doc.Meta.Slug,
		"headings", len(doc.TOC),
		"bytes", len(doc.Fragment),
	)
	return nil
}
