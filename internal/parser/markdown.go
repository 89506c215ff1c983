package parser

import (
	"io"
	"strings"

	"github.com/dgallion1/callgest/internal/document"
	"github.com/dgallion1/callgest/internal/meta"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark. Headings and
// paragraphs become plain lines, list items become "* " lines and thematic
// breaks become separator lines, so the segmenter sees the same shapes as
// in a plain-text export.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*document.Transcript, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	title := meta.StripExt(filename)
	titled := false
	var lines []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 && !titled {
			if t := strings.Join(blockLines(h, src), " "); t != "" {
				title = t
				titled = true
			}
		}
		lines = appendMarkdownBlock(lines, n, src)
		// Blank line between blocks ends any bullet run.
		lines = append(lines, "")
	}

	return document.FromLines(filename, title, lines), nil
}

func appendMarkdownBlock(lines []string, n ast.Node, src []byte) []string {
	switch node := n.(type) {
	case *ast.ThematicBreak:
		return append(lines, "-----")
	case *ast.List:
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			t := strings.TrimSpace(strings.Join(blockLines(item, src), " "))
			if t != "" {
				lines = append(lines, "* "+t)
			}
		}
		return lines
	}
	return append(lines, blockLines(n, src)...)
}

// blockLines returns the source lines of a leaf block, or of every leaf
// block beneath a container.
func blockLines(n ast.Node, src []byte) []string {
	var out []string
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		segs := n.Lines()
		for i := 0; i < segs.Len(); i++ {
			seg := segs.At(i)
			out = append(out, strings.TrimRight(string(seg.Value(src)), "\r\n"))
		}
		return out
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, blockLines(c, src)...)
	}
	return out
}
