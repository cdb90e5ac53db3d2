package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/seb128/cms-article-renderer/internal/cms"
	"github.com/seb128/cms-article-renderer/internal/config"
	"github.com/seb128/cms-article-renderer/internal/logging"
	"github.com/seb128/cms-article-renderer/internal/pipeline"
	"github.com/seb128/cms-article-renderer/internal/search"
	"github.com/seb128/cms-article-renderer/internal/sitemap"
	"github.com/seb128/cms-article-renderer/internal/storage"
	"github.com/seb128/cms-article-renderer/internal/transform"
)

type options struct {
	configPath string
	force      bool
	prune      bool
	output     string
	workers    int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to config YAML")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	flag.BoolVar(&opts.force, "force", false, "Force reprocessing of all articles (ignore processing cache)")
	flag.BoolVar(&opts.prune, "prune", false, "Remove stored articles that are no longer published")
	flag.StringVarP(&opts.output, "output", "o", "", "Override public HTML output directory")
	flag.IntVarP(&opts.workers, "workers", "w", 0, "Override the number of concurrent workers")
	flag.Parse()

	logger := logging.BuildLogger(*logLevel, *logFormat).With("run", uuid.NewString())
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ingest(ctx, logger, opts); err != nil {
		logger.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func ingest(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if opts.output != "" {
		cfg.PublicHTMLDir = opts.output
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}

	client := cms.New(cfg.Sources, cfg.APIToken, cfg.RequestsPerSecond)
	client.PageSize = cfg.PageSize
	client.Logger = logger

	indexer, err := search.NewSQLiteIndexer(cfg.IndexPath())
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{
		Source:  client,
		Indexer: indexer,
		Storage: storage.NewFSStorage(cfg.PublicHTMLDir),
		SitemapGenerator: &sitemap.SitemapGenerator{
			Root:    cfg.PublicHTMLDir,
			SiteURL: cfg.SiteURL(),
			Logger:  logger,
		},
		Logger: logger,
		Options: transform.Options{
			ExcerptWords:    cfg.ExcerptWords,
			TableMinColumns: cfg.TableMinColumns,
		},
		FailuresPath: filepath.Join(cfg.PublicHTMLDir, "ingest-failures.log"),
		Workers:      cfg.Workers,
		ForceProcess: opts.force,
		Prune:        opts.prune,
	}

	return runner.Run(ctx)
}
