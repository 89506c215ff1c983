package results

import (
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/dgallion1/callgest/internal/sentiment"
)

// DimensionSummary aggregates one sentiment dimension.
type DimensionSummary struct {
	Positive int     `json:"positive"`
	Neutral  int     `json:"neutral"`
	Negative int     `json:"negative"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stddev"`
}

// RoleSummary aggregates the classified blocks of one speaker role.
type RoleSummary struct {
	Role       string                      `json:"role"`
	Blocks     int                         `json:"blocks"`
	Dimensions map[string]DimensionSummary `json:"dimensions"`
}

// Summary is the per-role aggregate over a set of rows.
type Summary struct {
	Rows   int           `json:"rows"`
	Errors int           `json:"errors"`
	Roles  []RoleSummary `json:"roles"`
}

// Summarize aggregates classified rows per speaker role. Error rows and rows
// without sentiment are counted but not scored. Roles are sorted by name.
func Summarize(rows []Row) Summary {
	sum := Summary{Rows: len(rows)}
	byRole := make(map[string][]Row)
	for _, r := range rows {
		if r.Failed() {
			sum.Errors++
			continue
		}
		if r.SentimentJSON == "" {
			continue
		}
		byRole[r.SpeakerRole] = append(byRole[r.SpeakerRole], r)
	}

	roles := make([]string, 0, len(byRole))
	for role := range byRole {
		roles = append(roles, role)
	}
	slices.Sort(roles)

	for _, role := range roles {
		rs := RoleSummary{
			Role:       role,
			Blocks:     len(byRole[role]),
			Dimensions: make(map[string]DimensionSummary, len(sentiment.Dimensions)),
		}
		for _, dim := range sentiment.Dimensions {
			rs.Dimensions[dim] = summarizeDimension(byRole[role], dim)
		}
		sum.Roles = append(sum.Roles, rs)
	}
	return sum
}

func summarizeDimension(rows []Row, dim string) DimensionSummary {
	var ds DimensionSummary
	scores := make([]float64, 0, len(rows))
	for _, r := range rows {
		label := sentiment.ParseLabel(r.Label(dim))
		switch label {
		case sentiment.Positive:
			ds.Positive++
		case sentiment.Negative:
			ds.Negative++
		default:
			ds.Neutral++
		}
		scores = append(scores, label.Score())
	}
	if len(scores) == 0 {
		return ds
	}
	ds.Mean, ds.StdDev = stat.MeanStdDev(scores, nil)
	if len(scores) < 2 {
		ds.StdDev = 0
	}
	return ds
}
