package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/callgest/internal/document"
	"github.com/dgallion1/callgest/internal/meta"
)

// TextParser handles plain text files.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*document.Transcript, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		// Vendor exports are not always valid UTF-8; drop the bad bytes.
		lines = append(lines, strings.ToValidUTF8(scanner.Text(), ""))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(lines) > 0 {
		lines[0] = strings.TrimPrefix(lines[0], "\ufeff")
	}

	return document.FromLines(filename, meta.StripExt(filename), lines), nil
}
