package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seb128/cms-article-renderer/internal/transform"
)

const defaultConfigPath = "/app/www/config.yaml"

// Defaults applied by Load for keys left unset.
const (
	DefaultExcerptWords      = transform.DefaultExcerptWords
	DefaultPageSize          = 50
	DefaultRequestsPerSecond = 5
	DefaultWorkers           = 4
	DefaultTOCMinEntries     = 1
	DefaultTableMinColumns   = transform.DefaultTableMinColumns
)

// Config is the YAML configuration shared by the server and ingest
// binaries. JSON files are accepted as well since JSON is valid YAML.
type Config struct {
	Site              string   `yaml:"site"`
	SiteName          string   `yaml:"site_name"`
	Sources           []string `yaml:"sources"`
	APIToken          string   `yaml:"api_token"`
	PublicHTMLDir     string   `yaml:"public_html_dir"`
	IndexDir          string   `yaml:"index_dir"`
	ExcerptWords      int      `yaml:"excerpt_words"`
	PageSize          int      `yaml:"page_size"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Workers           int      `yaml:"workers"`
	TOCMinEntries     int      `yaml:"toc_min_entries"`
	TableMinColumns   int      `yaml:"table_min_columns"`
}

func DefaultPath() string {
	if path := os.Getenv("ARTICLES_CONFIG_FILE"); path != "" {
		return path
	}
	return defaultConfigPath
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SiteName == "" {
		c.SiteName = "Articles"
	}
	if c.ExcerptWords == 0 {
		c.ExcerptWords = DefaultExcerptWords
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.TOCMinEntries == 0 {
		c.TOCMinEntries = DefaultTOCMinEntries
	}
	if c.TableMinColumns == 0 {
		c.TableMinColumns = DefaultTableMinColumns
	}
}

func (c *Config) Validate() error {
	if c.Site == "" {
		return errors.New("config site is required")
	}
	if c.PublicHTMLDir == "" {
		return errors.New("config public_html_dir is required")
	}
	if len(c.Sources) == 0 {
		return errors.New("config sources is required")
	}
	for _, src := range c.Sources {
		u, err := url.Parse(src)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config source %q is not an absolute URL", src)
		}
	}
	if c.ExcerptWords < 1 {
		return errors.New("config excerpt_words must be positive")
	}
	if c.PageSize < 1 {
		return errors.New("config page_size must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("config requests_per_second must not be negative")
	}
	if c.Workers < 1 {
		return errors.New("config workers must be positive")
	}
	return nil
}

func (c *Config) IndexPath() string {
	if c.IndexDir != "" {
		return c.IndexDir
	}
	return filepath.Join(c.PublicHTMLDir, "search.db")
}

func (c *Config) SiteURL() string {
	return strings.TrimRight(c.Site, "/")
}
