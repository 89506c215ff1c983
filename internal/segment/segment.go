// Package segment splits earnings-call transcripts into ordered speaker
// blocks.
//
// Parsing runs in three passes over the text: a preprocessor that tags
// separators and section markers and drops bullet-list rosters, a scanner
// that classifies header lines, and an assembler that slices the body
// between consecutive headers. Segment never fails; unrecognised structure
// yields fewer, larger blocks.
package segment

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxBlockChars is the block length cap used when callers have no
// configured value.
const DefaultMaxBlockChars = 8000

// Block is one speaker turn.
type Block struct {
	Role    Role    `json:"speaker_role"`
	Section Section `json:"section,omitempty"`
	Text    string  `json:"text"`
}

// Result is the outcome of one Segment call.
type Result struct {
	Blocks []Block `json:"blocks"`

	// Degraded is set when no speaker header was recognised and the whole
	// transcript was emitted as a single UNKNOWN block. An empty transcript
	// yields no blocks and Degraded=false.
	Degraded bool `json:"degraded"`

	Lines          int `json:"lines"`
	SpeakerHeaders int `json:"speaker_headers"`
	SectionMarkers int `json:"section_markers"`
}

// Segment parses transcript text into speaker blocks. Block text is capped
// at maxBlockChars characters with a hard cut; maxBlockChars <= 0 disables
// truncation. Segment is safe for concurrent use.
func Segment(text string, maxBlockChars int) Result {
	lines := preprocess(text)
	marks := scan(lines)

	res := Result{Lines: len(lines)}
	for _, m := range marks {
		switch m.Kind {
		case KindSpeaker:
			res.SpeakerHeaders++
		case KindSection:
			res.SectionMarkers++
		}
	}

	if res.SpeakerHeaders == 0 {
		body := joinBody(lines, 0, len(lines))
		if body != "" {
			res.Blocks = []Block{{
				Role: RoleUnknown,
				Text: truncate(body, maxBlockChars),
			}}
			res.Degraded = true
		}
		return res
	}

	res.Blocks = assemble(lines, marks, maxBlockChars)
	return res
}

// assemble emits one block per speaker header. A body runs from the line
// after its header to the next section or speaker mark.
func assemble(lines []line, marks []Mark, maxBlockChars int) []Block {
	var blocks []Block
	section := SectionNone
	n := len(lines)

	for i, m := range marks {
		if m.Kind == KindSection {
			section = m.Section
			continue
		}
		if m.Kind != KindSpeaker {
			continue
		}

		start := m.Pos + 1
		if start < n && lines[start].separator {
			start++
		}

		end := n
		for _, next := range marks[i+1:] {
			if next.Kind != KindSeparator {
				end = next.Pos
				break
			}
		}
		for end > start && lines[end-1].separator {
			end--
		}

		body := joinBody(lines, start, end)
		if body == "" {
			continue
		}
		blocks = append(blocks, Block{
			Role:    m.Role,
			Section: section,
			Text:    truncate(body, maxBlockChars),
		})
	}
	return blocks
}

// joinBody joins lines[start:end] without separators or section markers
// and trims the result.
func joinBody(lines []line, start, end int) string {
	if start >= end {
		return ""
	}
	var sb strings.Builder
	first := true
	for _, l := range lines[start:end] {
		if l.separator || l.marker {
			continue
		}
		if !first {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.text)
		first = false
	}
	return strings.TrimSpace(sb.String())
}

// truncate keeps the first limit characters of s.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	i := 0
	for pos := range s {
		if i == limit {
			return s[:pos]
		}
		i++
	}
	return s
}
