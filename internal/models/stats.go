package models

import "time"

// OrgStats holds the contribution counters for one user within one
// organization. ReposContributed is the cardinality of the distinct
// repository set touched via PRs and issues; the set itself is not
// part of the record.
type OrgStats struct {
	PRTotal          int `json:"pr_total"`
	PRMerged         int `json:"pr_merged"`
	PROpen           int `json:"pr_open"`
	Commits          int `json:"commits"`
	IssuesOpened     int `json:"issues_opened"`
	IssuesClosed     int `json:"issues_closed"`
	IssuesCommented  int `json:"issues_commented"`
	ReviewsSubmitted int `json:"reviews_submitted"`
	ReposContributed int `json:"repos_contributed"`
}

// AddCounters sums the plain counters of other into s. ReposContributed
// is deliberately excluded: repository totals are derived from the
// union of repository sets, not from adding per-org cardinalities.
func (s *OrgStats) AddCounters(other OrgStats) {
	s.PRTotal += other.PRTotal
	s.PRMerged += other.PRMerged
	s.PROpen += other.PROpen
	s.Commits += other.Commits
	s.IssuesOpened += other.IssuesOpened
	s.IssuesClosed += other.IssuesClosed
	s.IssuesCommented += other.IssuesCommented
	s.ReviewsSubmitted += other.ReviewsSubmitted
}

// UserRecord is the aggregated result for a single user across all
// requested organizations. ByOrg keeps the per-organization breakdown
// as a typed mapping; flattening into organization-prefixed columns
// happens only at the export boundary.
type UserRecord struct {
	Username string              `json:"username"`
	Totals   OrgStats            `json:"totals"`
	ByOrg    map[string]OrgStats `json:"by_org"`
}

// RunMeta describes one analysis run for reporting purposes.
type RunMeta struct {
	GeneratedAt      time.Time `json:"generated_at"`
	Organizations    []string  `json:"organizations"`
	LookbackMonths   int       `json:"lookback_months"`
	ContributorCount int       `json:"contributor_count"`
}
