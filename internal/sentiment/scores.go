package sentiment

import (
	"encoding/json"
	"strings"
)

// Label is a sentiment reading for one dimension.
type Label string

const (
	Positive Label = "Positive"
	Neutral  Label = "Neutral"
	Negative Label = "Negative"
)

// Score maps a label onto +1, 0 or -1.
func (l Label) Score() float64 {
	switch l {
	case Positive:
		return 1
	case Negative:
		return -1
	}
	return 0
}

// ParseLabel normalises a model-provided label. Unrecognised values read as
// Neutral.
func ParseLabel(s string) Label {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return Positive
	case "negative":
		return Negative
	}
	return Neutral
}

// Dimensions lists the scored dimensions in output column order.
var Dimensions = []string{"Revenue", "Expenses", "Profitability", "Guidance", "Uncertainty"}

// Scores is the classifier output for one block.
type Scores struct {
	Revenue       Label `json:"Revenue"`
	Expenses      Label `json:"Expenses"`
	Profitability Label `json:"Profitability"`
	Guidance      Label `json:"Guidance"`
	Uncertainty   Label `json:"Uncertainty"`
}

// NeutralScores has every dimension set to Neutral.
func NeutralScores() Scores {
	return Scores{Neutral, Neutral, Neutral, Neutral, Neutral}
}

// Get returns the label for a dimension name from Dimensions.
func (s Scores) Get(dim string) Label {
	switch dim {
	case "Revenue":
		return s.Revenue
	case "Expenses":
		return s.Expenses
	case "Profitability":
		return s.Profitability
	case "Guidance":
		return s.Guidance
	case "Uncertainty":
		return s.Uncertainty
	}
	return ""
}

func (s *Scores) set(dim string, l Label) {
	switch dim {
	case "Revenue":
		s.Revenue = l
	case "Expenses":
		s.Expenses = l
	case "Profitability":
		s.Profitability = l
	case "Guidance":
		s.Guidance = l
	case "Uncertainty":
		s.Uncertainty = l
	}
}

// JSON renders the scores as a compact JSON object.
func (s Scores) JSON() string {
	b, _ := json.Marshal(s)
	return string(b)
}
