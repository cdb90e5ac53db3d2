package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArticlesDir is the directory under Root holding rendered fragments.
const ArticlesDir = "articles"

// ErrNotFound is returned when a stored file does not exist.
var ErrNotFound = errors.New("not found")

type FSStorage struct {
	Root string
}

func NewFSStorage(root string) *FSStorage {
	return &FSStorage{Root: root}
}

func (s *FSStorage) WriteHTML(ctx context.Context, destPath string, content []byte) error {
	return s.writeFile(destPath, content)
}

// ReadHTML returns the content stored at destPath (relative to Root).
func (s *FSStorage) ReadHTML(destPath string) ([]byte, error) {
	data, err := os.ReadFile(s.fullPath(destPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", destPath, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Remove deletes the file at destPath and its cache entry. Missing files
// are not an error.
func (s *FSStorage) Remove(ctx context.Context, destPath string) error {
	if err := os.Remove(s.fullPath(destPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove: %w", err)
	}
	slug := strings.TrimSuffix(filepath.Base(destPath), ".html")
	if err := os.Remove(s.cachePath(slug)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache: %w", err)
	}
	return nil
}

// ListArticles returns the slugs of all stored fragments, sorted.
func (s *FSStorage) ListArticles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, ArticlesDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	var slugs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".html") {
			continue
		}
		slugs = append(slugs, strings.TrimSuffix(name, ".html"))
	}
	sort.Strings(slugs)
	return slugs, nil
}

// CheckCache reports whether the stored content hash for slug matches hash.
func (s *FSStorage) CheckCache(slug string, hash string) bool {
	data, err := os.ReadFile(s.cachePath(slug))
	return err == nil && string(data) == hash
}

func (s *FSStorage) WriteCache(ctx context.Context, slug string, hash string) error {
	if slug == "" {
		return fmt.Errorf("cache slug required")
	}
	return s.writeFileAbsolute(s.cachePath(slug), []byte(hash))
}

func (s *FSStorage) cachePath(slug string) string {
	return filepath.Join(s.Root, ArticlesDir, ".cache", slug)
}

func (s *FSStorage) fullPath(destPath string) string {
	return filepath.Join(s.Root, filepath.FromSlash(destPath))
}

func (s *FSStorage) writeFile(destPath string, content []byte) error {
	return s.writeFileAbsolute(s.fullPath(destPath), content)
}

func (s *FSStorage) writeFileAbsolute(fullPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	// Remove any existing file or symlink so os.WriteFile does not
	// follow a stale symlink.
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
