package segment

import "strings"

// Kind classifies a header line.
type Kind int

const (
	KindSeparator Kind = iota + 1
	KindSection
	KindSpeaker
)

func (k Kind) String() string {
	switch k {
	case KindSeparator:
		return "separator"
	case KindSection:
		return "section"
	case KindSpeaker:
		return "speaker"
	}
	return "body"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Mark is a classified header line at Pos in the cleaned line sequence.
type Mark struct {
	Kind    Kind    `json:"kind"`
	Pos     int     `json:"pos"`
	Role    Role    `json:"role,omitempty"`
	Section Section `json:"section,omitempty"`
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// line is one entry of the cleaned sequence.
type line struct {
	text      string
	separator bool
	marker    bool
	section   Section
}

// preprocess splits raw text into cleaned lines. Section lines become
// markers, separators are tagged, and bullet rosters ("* Name") are dropped
// up to and including the next blank or separator line.
func preprocess(text string) []line {
	if text == "" {
		return nil
	}
	raw := strings.Split(lineBreaks.Replace(text), "\n")
	out := make([]line, 0, len(raw))
	skipping := false

	for _, s := range raw {
		if sec, ok := sectionOf(s); ok {
			out = append(out, line{text: s, marker: true, section: sec})
			skipping = false
			continue
		}

		sep := isSeparator(s)
		if strings.HasPrefix(strings.TrimSpace(s), "* ") {
			skipping = true
		}
		if skipping {
			if strings.TrimSpace(s) == "" || sep {
				skipping = false
			}
			continue
		}

		out = append(out, line{text: s, separator: sep})
	}
	return out
}

// scan classifies cleaned lines into marks ordered by position. Lines no
// rule claims are body text and produce no mark.
func scan(lines []line) []Mark {
	var marks []Mark
	for i, l := range lines {
		for _, r := range scanRules {
			kind, role, sec, ok := r(l)
			if !ok {
				continue
			}
			marks = append(marks, Mark{Kind: kind, Pos: i, Role: role, Section: sec})
			break
		}
	}
	return marks
}

// Scan returns the header marks found in text. Positions index the cleaned
// line sequence, not the raw input.
func Scan(text string) []Mark {
	return scan(preprocess(text))
}
