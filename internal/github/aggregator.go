package github

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oss-eval/contribrank/internal/models"
	"github.com/oss-eval/contribrank/internal/utils"
)

// QueryFetcher is the surface of the paginated fetcher the aggregator
// depends on.
type QueryFetcher interface {
	Fetch(ctx context.Context, query string) (*PageResult, error)
}

// QuotaGate is the quota-tracker surface consumed outside the fetcher:
// explicit refreshes and the blocking safety wait.
type QuotaGate interface {
	Refresh(ctx context.Context)
	AwaitSafe(ctx context.Context) error
}

// AggregatorConfig holds the query parameters shared by every user.
type AggregatorConfig struct {
	BaseURL       string
	Organizations []string

	// CreatedFilter is an optional search qualifier (e.g.
	// "+created:>=2025-03-01") applied to every search-style query.
	CreatedFilter string

	// CommitBatchSize bounds how many per-repository commit listings are
	// issued between quota checks.
	CommitBatchSize int

	// FullCommitScan counts commits across every repository of the
	// organization instead of only repositories discovered through the
	// user's PRs and issues.
	FullCommitScan bool
}

// Aggregator turns a username into a UserRecord by issuing the fixed
// query set against each configured organization and combining the
// results.
type Aggregator struct {
	fetcher QueryFetcher
	quota   QuotaGate
	cfg     AggregatorConfig
	logger  *logrus.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(fetcher QueryFetcher, quota QuotaGate, cfg AggregatorConfig, logger *logrus.Logger) *Aggregator {
	if cfg.CommitBatchSize <= 0 {
		cfg.CommitBatchSize = 3
	}
	return &Aggregator{
		fetcher: fetcher,
		quota:   quota,
		cfg:     cfg,
		logger:  logger,
	}
}

// searchIssue is the subset of a search result item the aggregator
// reads. Pull requests carry a pull_request object whose merged_at
// timestamp distinguishes merged from merely closed.
type searchIssue struct {
	State         string `json:"state"`
	RepositoryURL string `json:"repository_url"`
	PullRequest   *struct {
		MergedAt *time.Time `json:"merged_at"`
	} `json:"pull_request"`
}

// UserStats aggregates one user's contributions across every
// configured organization, in list order. Any error in any step aborts
// the whole user; partial per-organization data is discarded.
func (a *Aggregator) UserStats(ctx context.Context, username string) (*models.UserRecord, error) {
	record := &models.UserRecord{
		Username: username,
		ByOrg:    make(map[string]models.OrgStats, len(a.cfg.Organizations)),
	}
	overallRepos := make(map[string]struct{})

	for _, org := range a.cfg.Organizations {
		a.logger.WithFields(logrus.Fields{
			"user": username,
			"org":  org,
		}).Info("Analyzing contributions")

		stats, repos, err := a.orgStats(ctx, username, org)
		if err != nil {
			return nil, fmt.Errorf("fetching stats for %s in %s: %w", username, org, err)
		}

		stats.ReposContributed = len(repos)
		record.ByOrg[org] = *stats
		record.Totals.AddCounters(*stats)
		for repo := range repos {
			overallRepos[org+"/"+repo] = struct{}{}
		}
	}

	record.Totals.ReposContributed = len(overallRepos)

	a.logger.WithFields(logrus.Fields{
		"user":       username,
		"pr_merged":  record.Totals.PRMerged,
		"commits":    record.Totals.Commits,
		"repo_count": record.Totals.ReposContributed,
	}).Info("Completed analysis")
	return record, nil
}

// orgStats runs the fixed query set for one user in one organization
// and returns the counters plus the set of repositories touched.
func (a *Aggregator) orgStats(ctx context.Context, username, org string) (*models.OrgStats, map[string]struct{}, error) {
	stats := &models.OrgStats{}
	repos := make(map[string]struct{})

	// Authored pull requests: classify open / merged / closed-unmerged.
	prURL := fmt.Sprintf("%s/search/issues?q=author:%s+org:%s+is:pr%s&per_page=100",
		a.cfg.BaseURL, username, org, a.cfg.CreatedFilter)
	prResult, err := a.fetcher.Fetch(ctx, prURL)
	if err != nil {
		return nil, nil, err
	}
	for _, raw := range prResult.Entries() {
		var pr searchIssue
		if err := json.Unmarshal(raw, &pr); err != nil {
			return nil, nil, fmt.Errorf("decoding pull request item: %w", err)
		}
		stats.PRTotal++
		switch pr.State {
		case "open":
			stats.PROpen++
		case "closed":
			if pr.PullRequest != nil && pr.PullRequest.MergedAt != nil {
				stats.PRMerged++
			}
		}
		if name := repoNameFromURL(pr.RepositoryURL); name != "" {
			repos[name] = struct{}{}
		}
	}

	// Authored issues: open vs closed.
	issuesURL := fmt.Sprintf("%s/search/issues?q=author:%s+org:%s+is:issue%s&per_page=100",
		a.cfg.BaseURL, username, org, a.cfg.CreatedFilter)
	issuesResult, err := a.fetcher.Fetch(ctx, issuesURL)
	if err != nil {
		return nil, nil, err
	}
	for _, raw := range issuesResult.Entries() {
		var issue searchIssue
		if err := json.Unmarshal(raw, &issue); err != nil {
			return nil, nil, fmt.Errorf("decoding issue item: %w", err)
		}
		stats.IssuesOpened++
		if issue.State == "closed" {
			stats.IssuesClosed++
		}
		if name := repoNameFromURL(issue.RepositoryURL); name != "" {
			repos[name] = struct{}{}
		}
	}

	// Per-repository commit counts, batched to smooth request bursts.
	commitRepos, err := a.commitScanRepos(ctx, org, repos)
	if err != nil {
		return nil, nil, err
	}
	commits, err := a.countCommits(ctx, username, org, commitRepos)
	if err != nil {
		return nil, nil, err
	}
	stats.Commits = commits

	// Review activity.
	reviewsURL := fmt.Sprintf("%s/search/issues?q=reviewed-by:%s+org:%s+is:pr%s&per_page=100",
		a.cfg.BaseURL, username, org, a.cfg.CreatedFilter)
	reviewsResult, err := a.fetcher.Fetch(ctx, reviewsURL)
	if err != nil {
		return nil, nil, err
	}
	stats.ReviewsSubmitted = reviewsResult.Len()

	// Comment participation. The search API cannot combine issue and PR
	// comment filters, so these are two queries.
	issueCommentsURL := fmt.Sprintf("%s/search/issues?q=commenter:%s+org:%s+is:issue%s&per_page=100",
		a.cfg.BaseURL, username, org, a.cfg.CreatedFilter)
	issueComments, err := a.fetcher.Fetch(ctx, issueCommentsURL)
	if err != nil {
		return nil, nil, err
	}
	if err := a.quota.AwaitSafe(ctx); err != nil {
		return nil, nil, err
	}
	prCommentsURL := fmt.Sprintf("%s/search/issues?q=commenter:%s+org:%s+is:pr%s&per_page=100",
		a.cfg.BaseURL, username, org, a.cfg.CreatedFilter)
	prComments, err := a.fetcher.Fetch(ctx, prCommentsURL)
	if err != nil {
		return nil, nil, err
	}
	stats.IssuesCommented = issueComments.Len() + prComments.Len()

	return stats, repos, nil
}

// commitScanRepos returns the repositories whose commit lists should be
// counted, sorted for deterministic request order. With FullCommitScan
// enabled the organization's whole repository list is enumerated;
// otherwise only repositories already discovered through PRs and
// issues are scanned, which undercounts users who only push directly.
func (a *Aggregator) commitScanRepos(ctx context.Context, org string, discovered map[string]struct{}) ([]string, error) {
	set := make(map[string]struct{}, len(discovered))
	for name := range discovered {
		set[name] = struct{}{}
	}

	if a.cfg.FullCommitScan {
		listURL := fmt.Sprintf("%s/orgs/%s/repos?per_page=100", a.cfg.BaseURL, org)
		result, err := a.fetcher.Fetch(ctx, listURL)
		if err != nil {
			return nil, err
		}
		for _, raw := range result.Entries() {
			var repo struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(raw, &repo); err != nil {
				return nil, fmt.Errorf("decoding repository item: %w", err)
			}
			if repo.Name != "" {
				set[repo.Name] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// countCommits sums author-filtered commit list lengths per repository,
// checking the quota after every batch. The count is an approximation:
// the API has no authoritative per-author, per-organization total.
func (a *Aggregator) countCommits(ctx context.Context, username, org string, repoNames []string) (int, error) {
	total := 0
	for i := 0; i < len(repoNames); i += a.cfg.CommitBatchSize {
		end := i + a.cfg.CommitBatchSize
		if end > len(repoNames) {
			end = len(repoNames)
		}

		for _, repo := range repoNames[i:end] {
			commitsURL := fmt.Sprintf("%s/repos/%s/%s/commits?author=%s&per_page=100",
				a.cfg.BaseURL, org, repo, username)
			result, err := a.fetcher.Fetch(ctx, commitsURL)
			if err != nil {
				return 0, err
			}
			if result.Shape == ShapeList {
				total += result.Len()
			}
		}

		a.quota.Refresh(ctx)
		if err := a.quota.AwaitSafe(ctx); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// repoNameFromURL extracts the bare repository name from an API
// repository URL. Unparseable URLs yield "" and the item still counts
// toward its counters, it just doesn't register a repository.
func repoNameFromURL(repoURL string) string {
	_, name, err := utils.ParseRepoURL(repoURL)
	if err != nil {
		return ""
	}
	return name
}
