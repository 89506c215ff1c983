// Package meta derives ticker, quarter and date metadata from transcript
// filenames.
package meta

import (
	"path/filepath"
	"strings"
)

// Meta is the metadata attached to every block of one transcript. Empty
// fields were not present in the filename.
type Meta struct {
	Ticker  string `json:"ticker,omitempty"`
	Quarter string `json:"quarter,omitempty"`
	Year    string `json:"year,omitempty"`
	Date    string `json:"date,omitempty"`
	ExtraID string `json:"extra_id,omitempty"`
}

// FromFilename recognises two naming schemes:
//
//	AAPL_Q1_2024               ticker, quarter, year
//	2025-Jul-31-AAPL.OQ-12345  date, ticker, extra id
//
// Anything else is kept whole as ExtraID.
func FromFilename(name string) Meta {
	if parts := strings.Split(name, "_"); len(parts) == 3 && strings.HasPrefix(strings.ToUpper(parts[1]), "Q") {
		return Meta{Ticker: parts[0], Quarter: parts[1], Year: parts[2]}
	}

	if parts := strings.Split(name, "-"); len(parts) >= 4 {
		m := Meta{
			Date:   strings.Join(parts[:3], "-"),
			Ticker: parts[3],
		}
		if len(parts) >= 5 {
			m.ExtraID = parts[4]
		}
		return m
	}

	return Meta{ExtraID: name}
}

// StripExt returns the base name of a path without its extension.
func StripExt(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
