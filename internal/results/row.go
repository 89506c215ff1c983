// Package results holds the per-block output rows and their sinks.
package results

import (
	"strconv"

	"github.com/dgallion1/callgest/internal/meta"
	"github.com/dgallion1/callgest/internal/segment"
	"github.com/dgallion1/callgest/internal/sentiment"
)

// Row is one output record: a classified speaker block, or a file-level
// error with BlockIndex 0.
type Row struct {
	Filename      string `json:"filename"`
	Ticker        string `json:"ticker,omitempty"`
	Quarter       string `json:"quarter,omitempty"`
	Year          string `json:"year,omitempty"`
	Date          string `json:"date,omitempty"`
	ExtraID       string `json:"extra_id,omitempty"`
	BlockIndex    int    `json:"block_index"`
	Section       string `json:"section,omitempty"`
	SpeakerRole   string `json:"speaker_role,omitempty"`
	Text          string `json:"text,omitempty"`
	SentimentJSON string `json:"sentiment_json,omitempty"`
	Revenue       string `json:"Revenue,omitempty"`
	Expenses      string `json:"Expenses,omitempty"`
	Profitability string `json:"Profitability,omitempty"`
	Guidance      string `json:"Guidance,omitempty"`
	Uncertainty   string `json:"Uncertainty,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Columns is the CSV header, in Row field order.
var Columns = []string{
	"filename", "ticker", "quarter", "year", "date", "extra_id",
	"block_index", "section", "speaker_role", "text", "sentiment_json",
	"Revenue", "Expenses", "Profitability", "Guidance", "Uncertainty",
	"error",
}

// BlockRow builds the unclassified row for the index-th block (1-based).
func BlockRow(filename string, m meta.Meta, index int, b segment.Block) Row {
	return Row{
		Filename:    filename,
		Ticker:      m.Ticker,
		Quarter:     m.Quarter,
		Year:        m.Year,
		Date:        m.Date,
		ExtraID:     m.ExtraID,
		BlockIndex:  index,
		Section:     string(b.Section),
		SpeakerRole: string(b.Role),
		Text:        b.Text,
	}
}

// ErrorRow builds the single row emitted for a file that could not be read.
func ErrorRow(filename string, m meta.Meta, err error) Row {
	return Row{
		Filename: filename,
		Ticker:   m.Ticker,
		Quarter:  m.Quarter,
		Year:     m.Year,
		Date:     m.Date,
		ExtraID:  m.ExtraID,
		Error:    "ReadError: " + err.Error(),
	}
}

// SetScores fills the sentiment columns.
func (r *Row) SetScores(s sentiment.Scores) {
	r.SentimentJSON = s.JSON()
	r.Revenue = string(s.Revenue)
	r.Expenses = string(s.Expenses)
	r.Profitability = string(s.Profitability)
	r.Guidance = string(s.Guidance)
	r.Uncertainty = string(s.Uncertainty)
	r.Error = ""
}

// Label returns the sentiment column for a dimension from
// sentiment.Dimensions.
func (r Row) Label(dim string) string {
	switch dim {
	case "Revenue":
		return r.Revenue
	case "Expenses":
		return r.Expenses
	case "Profitability":
		return r.Profitability
	case "Guidance":
		return r.Guidance
	case "Uncertainty":
		return r.Uncertainty
	}
	return ""
}

// Failed reports whether the row carries an error.
func (r Row) Failed() bool {
	return r.Error != ""
}

// Record renders the row in Columns order.
func (r Row) Record() []string {
	idx := ""
	if r.BlockIndex > 0 {
		idx = strconv.Itoa(r.BlockIndex)
	}
	return []string{
		r.Filename, r.Ticker, r.Quarter, r.Year, r.Date, r.ExtraID,
		idx, r.Section, r.SpeakerRole, r.Text, r.SentimentJSON,
		r.Revenue, r.Expenses, r.Profitability, r.Guidance, r.Uncertainty,
		r.Error,
	}
}
