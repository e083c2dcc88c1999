// Package runner drives one analysis run: it iterates the requested
// usernames, skips already-completed ones, invokes the stats
// aggregator, and checkpoints after every success so an interrupted
// run loses at most one user's work.
package runner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/oss-eval/contribrank/internal/errors"
	"github.com/oss-eval/contribrank/internal/models"
)

// StatsProvider produces one user's aggregated record.
type StatsProvider interface {
	UserStats(ctx context.Context, username string) (*models.UserRecord, error)
}

// QuotaGate is the quota-tracker surface the orchestrator consults
// between users.
type QuotaGate interface {
	Refresh(ctx context.Context)
	AwaitSafe(ctx context.Context) error
}

// Checkpointer persists completion progress and the full result set.
type Checkpointer interface {
	Load() *models.Progress
	Save(*models.Progress) error
	SaveResults([]*models.UserRecord) error
	LoadCachedRecords(completed map[string]struct{}) []*models.UserRecord
}

// Orchestrator coordinates the aggregation of many users within one
// run. It owns the completion set and the accumulated result list.
type Orchestrator struct {
	stats  StatsProvider
	store  Checkpointer
	quota  QuotaGate
	logger *logrus.Logger
}

// New creates an Orchestrator.
func New(stats StatsProvider, store Checkpointer, quota QuotaGate, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		stats:  stats,
		store:  store,
		quota:  quota,
		logger: logger,
	}
}

// Run processes the given usernames in order, skipping those already
// marked complete by a previous run. A user whose aggregation fails
// with quota exhaustion is retried exactly once after a forced quota
// wait; any other failure logs and skips that user. Cancellation is
// observed between users and flushes the checkpoint before returning.
// The returned records include cached results for users completed in
// earlier runs.
func (o *Orchestrator) Run(ctx context.Context, usernames []string) ([]*models.UserRecord, error) {
	progress := o.store.Load()
	completed := progress.CompletedSet()

	var pending []string
	for _, username := range usernames {
		if _, done := completed[username]; !done {
			pending = append(pending, username)
		}
	}
	if skipped := len(usernames) - len(pending); skipped > 0 {
		o.logger.WithField("skipped", skipped).Info("Skipping already analyzed users")
	}

	flush := func() {
		progress.CompletedUsers = progress.CompletedUsers[:0]
		for username := range completed {
			progress.CompletedUsers = append(progress.CompletedUsers, username)
		}
		progress.LastUpdated = time.Now()
		if err := o.store.Save(progress); err != nil {
			o.logger.WithError(err).Warn("Failed to save progress")
		}
	}

	var results []*models.UserRecord

	// exit flushes the checkpoint and rewrites the results file on an
	// early return. Cached records from earlier runs are merged first so
	// an interrupt never erases work the checkpoint still claims.
	exit := func(err error) ([]*models.UserRecord, error) {
		flush()
		merged := o.mergeCached(results, completed)
		o.saveResults(merged)
		return merged, err
	}

	for i, username := range pending {
		if ctx.Err() != nil {
			o.logger.Info("Run interrupted, saving progress")
			return exit(ctx.Err())
		}

		o.logger.WithFields(logrus.Fields{
			"user":     username,
			"position": i + 1,
			"total":    len(pending),
		}).Info("Analyzing contributions")

		o.quota.Refresh(ctx)
		if err := o.quota.AwaitSafe(ctx); err != nil {
			return exit(err)
		}

		record, err := o.stats.UserStats(ctx, username)
		if err != nil && apperrors.IsQuotaExceeded(err) && ctx.Err() == nil {
			o.logger.WithField("user", username).Warn("Rate limit exceeded, waiting for reset before retrying user")
			o.quota.Refresh(ctx)
			if werr := o.quota.AwaitSafe(ctx); werr != nil {
				return exit(werr)
			}
			record, err = o.stats.UserStats(ctx, username)
		}
		if err != nil {
			if ctx.Err() != nil {
				o.logger.Info("Run interrupted, saving progress")
				return exit(ctx.Err())
			}
			o.logger.WithError(err).WithField("user", username).Error("Error analyzing user, moving on")
			flush()
			continue
		}

		results = append(results, record)
		completed[username] = struct{}{}
		flush()
	}

	results = o.mergeCached(results, completed)
	o.saveResults(results)
	return results, nil
}

// mergeCached appends stored records for users that were already
// complete before this run started.
func (o *Orchestrator) mergeCached(results []*models.UserRecord, completed map[string]struct{}) []*models.UserRecord {
	have := make(map[string]struct{}, len(results))
	for _, record := range results {
		have[record.Username] = struct{}{}
	}
	for _, cached := range o.store.LoadCachedRecords(completed) {
		if _, ok := have[cached.Username]; !ok {
			results = append(results, cached)
			o.logger.WithField("user", cached.Username).Debug("Loaded cached result")
		}
	}
	return results
}

func (o *Orchestrator) saveResults(results []*models.UserRecord) {
	if err := o.store.SaveResults(results); err != nil {
		o.logger.WithError(err).Warn("Couldn't save results file")
	}
}
