// Package document holds the plain-text form of a parsed transcript file.
package document

import "strings"

// Transcript is a transcript file reduced to newline-separated lines of
// text, ready for segmentation.
type Transcript struct {
	Filename string // Original filename, including extension
	Title    string // Document title, or the filename without extension
	Text     string
	Pages    int // Source page count (0 if N/A)
}

// FromLines builds a Transcript from already-split lines.
func FromLines(filename, title string, lines []string) *Transcript {
	return &Transcript{
		Filename: filename,
		Title:    title,
		Text:     strings.Join(lines, "\n"),
	}
}

// Empty reports whether the transcript has no visible text.
func (t *Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == ""
}
