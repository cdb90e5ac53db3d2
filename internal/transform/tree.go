package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Node kinds as they appear in the rich-text JSON. Matching is
// case-insensitive so "listItem" and "listitem" are the same kind.
const (
	KindRoot      = "root"
	KindParagraph = "paragraph"
	KindHeading   = "heading"
	KindList      = "list"
	KindListItem  = "listitem"
	KindQuote     = "quote"
	KindText      = "text"
	KindLink      = "link"
	KindLineBreak = "linebreak"
)

// Text format bits.
const (
	FormatBold          = 1 << 0
	FormatItalic        = 1 << 1
	FormatCode          = 1 << 3
	FormatUnderline     = 1 << 4
	FormatStrikethrough = 1 << 5
)

// formatTags lists the inline wrappers in the order they are applied; each
// one wraps the string built by the previous ones.
var formatTags = []struct {
	bit int
	tag string
}{
	{FormatBold, "strong"},
	{FormatItalic, "em"},
	{FormatCode, "code"},
	{FormatUnderline, "u"},
	{FormatStrikethrough, "s"},
}

// Document is a structured rich-text document as stored by the CMS.
type Document struct {
	Root *Node `json:"root"`
}

// Node is one node of a Document tree.
type Node struct {
	Type     string      `json:"type"`
	Children []*Node     `json:"children,omitempty"`
	Tag      string      `json:"tag,omitempty"`
	ListType string      `json:"listType,omitempty"`
	Text     string      `json:"text,omitempty"`
	Format   Format      `json:"format,omitempty"`
	URL      string      `json:"url,omitempty"`
	Target   string      `json:"target,omitempty"`
	Rel      string      `json:"rel,omitempty"`
	Fields   *LinkFields `json:"fields,omitempty"`
}

// LinkFields is the nested link payload some editors store instead of
// top-level url/target attributes.
type LinkFields struct {
	URL    string `json:"url,omitempty"`
	NewTab bool   `json:"newTab,omitempty"`
}

// Format is the text format bitmask. Element nodes reuse the "format" key
// for alignment strings ("left", "center"); those decode as zero. Numeric
// strings and fractional numbers are truncated to their integer part.
type Format int

func (f *Format) UnmarshalJSON(data []byte) error {
	*f = 0
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch v := v.(type) {
	case float64:
		*f = Format(int(v))
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*f = Format(int(n))
		}
	}
	return nil
}

// UnmarshalJSON decodes a node leniently. A value that is not an object
// decodes as an empty node, and a field of the wrong type is left at its
// zero value, so a damaged tree still renders whatever is intact.
func (n *Node) UnmarshalJSON(data []byte) error {
	*n = Node{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	n.Type = rawString(raw["type"])
	n.Tag = rawString(raw["tag"])
	n.ListType = rawString(raw["listType"])
	n.Text = rawString(raw["text"])
	n.URL = rawString(raw["url"])
	n.Target = rawString(raw["target"])
	n.Rel = rawString(raw["rel"])
	if v, ok := raw["format"]; ok {
		_ = n.Format.UnmarshalJSON(v)
	}
	if v, ok := raw["fields"]; ok {
		var fields LinkFields
		if err := json.Unmarshal(v, &fields); err == nil {
			n.Fields = &fields
		}
	}
	var children []json.RawMessage
	if err := json.Unmarshal(raw["children"], &children); err == nil {
		for _, c := range children {
			child := &Node{}
			_ = child.UnmarshalJSON(c)
			n.Children = append(n.Children, child)
		}
	}
	return nil
}

func rawString(data json.RawMessage) string {
	var s string
	if len(data) == 0 || json.Unmarshal(data, &s) != nil {
		return ""
	}
	return s
}

// ParseDocument decodes a rich-text JSON document. Only input that is not
// JSON at all is an error; malformed nodes render as nothing.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

func (n *Node) kind() string {
	return strings.ToLower(n.Type)
}

// RenderHTML converts a document tree to HTML. A nil document or one
// without a root renders as the empty string.
func RenderHTML(doc *Document) string {
	if doc == nil || doc.Root == nil {
		return ""
	}
	var b strings.Builder
	writeNodeHTML(&b, doc.Root)
	return b.String()
}

func writeChildrenHTML(b *strings.Builder, n *Node) {
	for _, c := range n.Children {
		writeNodeHTML(b, c)
	}
}

func writeWrappedHTML(b *strings.Builder, tag string, n *Node) {
	b.WriteString("<" + tag + ">")
	writeChildrenHTML(b, n)
	b.WriteString("</" + tag + ">")
}

func writeNodeHTML(b *strings.Builder, n *Node) {
	if n == nil {
		return
	}
	switch n.kind() {
	case KindParagraph:
		writeWrappedHTML(b, "p", n)
	case KindHeading:
		tag := n.Tag
		if tag == "" {
			tag = "h2"
		}
		writeWrappedHTML(b, tag, n)
	case KindList:
		tag := "ul"
		if n.ListType == "number" {
			tag = "ol"
		}
		writeWrappedHTML(b, tag, n)
	case KindListItem:
		writeWrappedHTML(b, "li", n)
	case KindQuote:
		writeWrappedHTML(b, "blockquote", n)
	case KindText:
		b.WriteString(formatText(n.Text, int(n.Format)))
	case KindLink:
		writeLinkHTML(b, n)
	case KindLineBreak:
		b.WriteString("<br>")
	default:
		// root and unknown kinds contribute their children only.
		writeChildrenHTML(b, n)
	}
}

func formatText(text string, format int) string {
	for _, f := range formatTags {
		if format&f.bit != 0 {
			text = "<" + f.tag + ">" + text + "</" + f.tag + ">"
		}
	}
	return text
}

func writeLinkHTML(b *strings.Builder, n *Node) {
	url, target, rel := n.URL, n.Target, n.Rel
	if n.Fields != nil {
		if url == "" {
			url = n.Fields.URL
		}
		if target == "" && n.Fields.NewTab {
			target = "_blank"
			if rel == "" {
				rel = "noopener noreferrer"
			}
		}
	}
	if url == "" {
		url = "#"
	}
	b.WriteString(`<a href="` + url + `"`)
	if target != "" {
		b.WriteString(` target="` + target + `"`)
	}
	if rel != "" {
		b.WriteString(` rel="` + rel + `"`)
	}
	b.WriteByte('>')
	writeChildrenHTML(b, n)
	b.WriteString("</a>")
}

// RenderPlainText extracts the text of a document tree. Sibling nodes are
// joined with a single space.
func RenderPlainText(doc *Document) string {
	if doc == nil || doc.Root == nil {
		return ""
	}
	return nodeText(doc.Root)
}

func nodeText(n *Node) string {
	if n == nil {
		return ""
	}
	if n.kind() == KindText {
		return n.Text
	}
	if len(n.Children) == 0 {
		return ""
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = nodeText(c)
	}
	return strings.Join(parts, " ")
}
