package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	metaPrefix = "<!--META:"
	metaSuffix = "-->"
)

// FragmentMeta is the metadata prepended to a stored article fragment.
type FragmentMeta struct {
	Title        string     `json:"title"`
	Slug         string     `json:"slug"`
	Description  string     `json:"description,omitempty"`
	Excerpt      string     `json:"excerpt,omitempty"`
	Category     string     `json:"category,omitempty"`
	CategorySlug string     `json:"categorySlug,omitempty"`
	Published    time.Time  `json:"published,omitzero"`
	Modified     time.Time  `json:"modified,omitzero"`
	Image        *Image     `json:"image,omitempty"`
	TOC          []TocEntry `json:"toc,omitempty"`
	// SplitAt is the byte offset of the first level-2 heading in the body
	// (the body length when there is none).
	SplitAt int `json:"splitAt"`
}

// encodeFragment writes the <!--META:{json}--> header followed by body.
func encodeFragment(fm FragmentMeta, body string) (string, error) {
	metaJSON, err := json.Marshal(fm)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(metaPrefix) + len(metaJSON) + len(metaSuffix) + 1 + len(body))
	b.WriteString(metaPrefix)
	b.Write(metaJSON)
	b.WriteString(metaSuffix)
	b.WriteByte('\n')
	b.WriteString(body)
	return b.String(), nil
}

// ParseFragment splits a stored fragment into its metadata header and
// body. Content without a header is returned as body with zero metadata
// and SplitAt set to the body length.
func ParseFragment(content string) (FragmentMeta, string, error) {
	var fm FragmentMeta
	if !strings.HasPrefix(content, metaPrefix) {
		fm.SplitAt = len(content)
		return fm, content, nil
	}
	end := strings.Index(content, metaSuffix)
	if end < 0 {
		return fm, "", fmt.Errorf("parse fragment: unterminated meta header")
	}
	if err := json.Unmarshal([]byte(content[len(metaPrefix):end]), &fm); err != nil {
		return fm, "", fmt.Errorf("parse fragment: %w", err)
	}
	body := strings.TrimPrefix(content[end+len(metaSuffix):], "\n")
	if fm.SplitAt < 0 || fm.SplitAt > len(body) {
		fm.SplitAt = len(body)
	}
	return fm, body, nil
}
