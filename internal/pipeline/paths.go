package pipeline

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/seb128/cms-article-renderer/internal/storage"
)

// ErrInvalidSlug is returned for slugs that cannot be used as a file name.
var ErrInvalidSlug = errors.New("invalid slug")

const maxSlugLen = 200

// ArticlePath returns the storage path of the fragment for slug, relative
// to the public root.
func ArticlePath(slug string) (string, error) {
	if err := ValidateSlug(slug); err != nil {
		return "", err
	}
	return path.Join(storage.ArticlesDir, slug) + ".html", nil
}

// ValidateSlug rejects empty slugs, path separators, dot files and control
// characters.
func ValidateSlug(slug string) error {
	switch {
	case slug == "":
		return fmt.Errorf("%w: empty", ErrInvalidSlug)
	case len(slug) > maxSlugLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSlug, maxSlugLen)
	case strings.HasPrefix(slug, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidSlug, slug)
	case strings.ContainsAny(slug, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSlug, slug)
	case strings.IndexFunc(slug, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: %q contains a control character", ErrInvalidSlug, slug)
	case strings.HasSuffix(slug, ".txt"), strings.HasSuffix(slug, ".md"):
		// Reserved for the plain text and Markdown views.
		return fmt.Errorf("%w: %q uses a reserved suffix", ErrInvalidSlug, slug)
	}
	return nil
}
