package sentiment

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ParseError reports a model response that held no decodable JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("JSONParseError: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var codeFenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Keys the model sometimes uses in place of the canonical dimension names.
var dimensionAliases = map[string]string{
	"revenue":           "Revenue",
	"expenses":          "Expenses",
	"profitability":     "Profitability",
	"guidance":          "Guidance",
	"outlook":           "Guidance",
	"guidance/outlook":  "Guidance",
	"uncertainty":       "Uncertainty",
	"risks":             "Uncertainty",
	"risk":              "Uncertainty",
	"risks/uncertainty": "Uncertainty",
}

// ParseResponse extracts Scores from a model reply. A fenced ```json block
// is preferred; otherwise the outermost {...} span is decoded. Missing
// dimensions default to Neutral.
func ParseResponse(raw string) (Scores, error) {
	body := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(raw); m != nil {
		body = m[1]
	}
	first := strings.Index(body, "{")
	last := strings.LastIndex(body, "}")
	if first != -1 && last > first {
		body = body[first : last+1]
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return Scores{}, &ParseError{Raw: truncate(raw, 3000), Err: err}
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	scores := NeutralScores()
	seen := make(map[string]bool, len(Dimensions))
	for _, key := range keys {
		v := obj[key]
		dim, ok := dimensionAliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		// A canonical key wins over an alias for the same dimension.
		canonical := strings.EqualFold(key, dim)
		if seen[dim] && !canonical {
			continue
		}
		scores.set(dim, ParseLabel(fmt.Sprint(v)))
		if canonical {
			seen[dim] = true
		}
	}
	return scores, nil
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
