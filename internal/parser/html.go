package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/callgest/internal/document"
	"github.com/dgallion1/callgest/internal/meta"
	"golang.org/x/net/html"
)

// HTMLParser handles HTML files. Block elements become lines; list items
// become "* " lines and <hr> becomes a separator line.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*document.Transcript, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := meta.StripExt(filename)
	if t := findTitle(doc); t != "" {
		title = t
	}

	w := &htmlLineWriter{}
	if body := findBody(doc); body != nil {
		w.walk(body)
	} else {
		w.walk(doc)
	}
	w.flush()

	return document.FromLines(filename, title, w.lines), nil
}

type htmlLineWriter struct {
	lines []string
	cur   strings.Builder
}

func (w *htmlLineWriter) flush() {
	t := strings.Join(strings.Fields(w.cur.String()), " ")
	if t != "" {
		w.lines = append(w.lines, t)
	}
	w.cur.Reset()
}

func (w *htmlLineWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.cur.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "nav", "footer", "header", "head", "noscript":
			return
		case "br":
			w.flush()
			return
		case "hr":
			w.flush()
			w.lines = append(w.lines, "-----")
			return
		case "pre":
			w.flush()
			for _, l := range strings.Split(textContent(n), "\n") {
				w.lines = append(w.lines, strings.TrimRight(l, " \t\r"))
			}
			return
		case "li":
			w.flush()
			if t := strings.Join(strings.Fields(textContent(n)), " "); t != "" {
				w.lines = append(w.lines, "* "+t)
			}
			return
		}
	}

	block := n.Type == html.ElementNode && isBlockElement(n.Data)
	if block {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block {
		w.flush()
	}
	if n.Type == html.ElementNode && (n.Data == "ul" || n.Data == "ol") {
		w.lines = append(w.lines, "")
	}
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "main", "blockquote", "ul", "ol",
		"table", "tr", "td", "th", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
