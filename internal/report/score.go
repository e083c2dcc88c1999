// Package report ranks aggregated user records and renders them. It
// computes the composite contribution score, flattens the typed
// per-organization breakdown into organization-qualified columns, and
// writes CSV and JSON outputs.
package report

import (
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/oss-eval/contribrank/internal/models"
)

// Composite score weights. These are a declared external contract:
// evaluators compare candidates by this exact linear combination.
const (
	weightPRMerged         = 3.0
	weightCommits          = 0.5
	weightIssuesOpened     = 1.0
	weightIssuesClosed     = 1.5
	weightReviewsSubmitted = 2.0
	weightIssuesCommented  = 0.5
)

// Score computes the composite contribution score for one counter set.
func Score(s models.OrgStats) float64 {
	return weightPRMerged*float64(s.PRMerged) +
		weightCommits*float64(s.Commits) +
		weightIssuesOpened*float64(s.IssuesOpened) +
		weightIssuesClosed*float64(s.IssuesClosed) +
		weightReviewsSubmitted*float64(s.ReviewsSubmitted) +
		weightIssuesCommented*float64(s.IssuesCommented)
}

// SortByScore orders records by overall composite score, descending.
// Ties keep their input order.
func SortByScore(records []*models.UserRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return Score(records[i].Totals) > Score(records[j].Totals)
	})
}

// NormalizeOrg converts an organization name into the identifier used
// to prefix its flattened columns.
func NormalizeOrg(org string) string {
	return strings.ReplaceAll(org, "-", "_")
}

// ScoreSummary describes the distribution of overall composite scores
// across a result set.
type ScoreSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Max    float64 `json:"max"`
}

// Summarize computes the score distribution for the report metadata.
// It returns nil for an empty result set.
func Summarize(records []*models.UserRecord) (*ScoreSummary, error) {
	if len(records) == 0 {
		return nil, nil
	}
	scores := make([]float64, len(records))
	for i, record := range records {
		scores[i] = Score(record.Totals)
	}

	mean, err := stats.Mean(scores)
	if err != nil {
		return nil, err
	}
	median, err := stats.Median(scores)
	if err != nil {
		return nil, err
	}
	stdDev, err := stats.StdDevP(scores)
	if err != nil {
		return nil, err
	}
	max, err := stats.Max(scores)
	if err != nil {
		return nil, err
	}
	return &ScoreSummary{Mean: mean, Median: median, StdDev: stdDev, Max: max}, nil
}
