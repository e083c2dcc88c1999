package runner

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/oss-eval/contribrank/internal/errors"
	"github.com/oss-eval/contribrank/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// memStore is an in-memory Checkpointer.
type memStore struct {
	progress *models.Progress
	results  []*models.UserRecord
	saves    int
}

func (m *memStore) Load() *models.Progress {
	if m.progress == nil {
		return &models.Progress{}
	}
	copied := &models.Progress{
		CompletedUsers: append([]string(nil), m.progress.CompletedUsers...),
		LastUpdated:    m.progress.LastUpdated,
	}
	return copied
}

func (m *memStore) Save(progress *models.Progress) error {
	m.saves++
	m.progress = &models.Progress{
		CompletedUsers: append([]string(nil), progress.CompletedUsers...),
		LastUpdated:    progress.LastUpdated,
	}
	return nil
}

func (m *memStore) SaveResults(records []*models.UserRecord) error {
	m.results = append([]*models.UserRecord(nil), records...)
	return nil
}

func (m *memStore) LoadCachedRecords(completed map[string]struct{}) []*models.UserRecord {
	var matched []*models.UserRecord
	for _, record := range m.results {
		if _, ok := completed[record.Username]; ok {
			matched = append(matched, record)
		}
	}
	return matched
}

type stubGate struct{}

func (stubGate) Refresh(ctx context.Context)         {}
func (stubGate) AwaitSafe(ctx context.Context) error { return nil }

// scriptedStats returns pre-programmed outcomes per username and counts
// fetches.
type scriptedStats struct {
	errs    map[string][]error
	fetches map[string]int
}

func newScriptedStats() *scriptedStats {
	return &scriptedStats{
		errs:    make(map[string][]error),
		fetches: make(map[string]int),
	}
}

func (s *scriptedStats) UserStats(ctx context.Context, username string) (*models.UserRecord, error) {
	s.fetches[username]++
	if queue := s.errs[username]; len(queue) > 0 {
		err := queue[0]
		s.errs[username] = queue[1:]
		if err != nil {
			return nil, err
		}
	}
	return &models.UserRecord{
		Username: username,
		Totals:   models.OrgStats{PRMerged: 1},
	}, nil
}

func TestOrchestrator_ProcessesAllUsers(t *testing.T) {
	stats := newScriptedStats()
	store := &memStore{}
	orch := New(stats, store, stubGate{}, testLogger())

	results, err := orch.Run(context.Background(), []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []string{"alice", "bob"}, store.progress.CompletedUsers)
	assert.Len(t, store.results, 2)
}

func TestOrchestrator_ResumptionSkipsCompletedUsers(t *testing.T) {
	stats := newScriptedStats()
	store := &memStore{}
	orch := New(stats, store, stubGate{}, testLogger())

	users := []string{"alice", "bob"}
	_, err := orch.Run(context.Background(), users)
	require.NoError(t, err)

	// Second run over the same users: every record comes from cache.
	results, err := orch.Run(context.Background(), users)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, stats.fetches["alice"])
	assert.Equal(t, 1, stats.fetches["bob"])
}

func TestOrchestrator_QuotaFailureRetriedOnce(t *testing.T) {
	stats := newScriptedStats()
	stats.errs["alice"] = []error{
		apperrors.NewQuotaExceededError(time.Now().Add(-time.Minute)),
	}
	store := &memStore{}
	orch := New(stats, store, stubGate{}, testLogger())

	results, err := orch.Run(context.Background(), []string{"alice"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, stats.fetches["alice"])
}

func TestOrchestrator_PersistentQuotaFailureSkipsUser(t *testing.T) {
	quotaErr := apperrors.NewQuotaExceededError(time.Now().Add(-time.Minute))
	stats := newScriptedStats()
	stats.errs["alice"] = []error{quotaErr, quotaErr}
	store := &memStore{}
	orch := New(stats, store, stubGate{}, testLogger())

	results, err := orch.Run(context.Background(), []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob", results[0].Username)
	assert.Equal(t, 2, stats.fetches["alice"])
	assert.ElementsMatch(t, []string{"bob"}, store.progress.CompletedUsers)
}

func TestOrchestrator_OtherFailureSkipsWithoutRetry(t *testing.T) {
	stats := newScriptedStats()
	stats.errs["alice"] = []error{fmt.Errorf("API request failed: 500 - boom")}
	store := &memStore{}
	orch := New(stats, store, stubGate{}, testLogger())

	results, err := orch.Run(context.Background(), []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob", results[0].Username)
	assert.Equal(t, 1, stats.fetches["alice"])
}

func TestOrchestrator_CancellationFlushesProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stats := &cancellingStats{cancel: cancel}
	store := &memStore{}
	orch := New(stats, store, stubGate{}, testLogger())

	results, err := orch.Run(ctx, []string{"alice", "bob", "carol"})
	require.ErrorIs(t, err, context.Canceled)

	// alice completed before the cancel took effect; the checkpoint and
	// results file both reflect her.
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].Username)
	assert.ElementsMatch(t, []string{"alice"}, store.progress.CompletedUsers)
	assert.Len(t, store.results, 1)
}

// cancellingStats cancels the run context after the first user.
type cancellingStats struct {
	cancel context.CancelFunc
	calls  int
}

func (s *cancellingStats) UserStats(ctx context.Context, username string) (*models.UserRecord, error) {
	s.calls++
	if s.calls == 1 {
		defer s.cancel()
		return &models.UserRecord{Username: username}, nil
	}
	return nil, ctx.Err()
}

func TestOrchestrator_InterruptPreservesEarlierRunResults(t *testing.T) {
	// alice completed in a previous run; this run is interrupted while
	// processing bob. Her cached record must survive the interrupt's
	// results rewrite, since the checkpoint still lists her as done.
	store := &memStore{
		progress: &models.Progress{CompletedUsers: []string{"alice"}},
		results: []*models.UserRecord{
			{Username: "alice", Totals: models.OrgStats{PRMerged: 4}},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	stats := &interruptedStats{cancel: cancel}
	orch := New(stats, store, stubGate{}, testLogger())

	results, err := orch.Run(ctx, []string{"alice", "bob"})
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].Username)
	assert.ElementsMatch(t, []string{"alice"}, store.progress.CompletedUsers)

	cached := store.LoadCachedRecords(map[string]struct{}{"alice": {}})
	require.Len(t, cached, 1)
	assert.Equal(t, 4, cached[0].Totals.PRMerged)
}

// interruptedStats simulates a SIGINT arriving mid-aggregation.
type interruptedStats struct {
	cancel context.CancelFunc
}

func (s *interruptedStats) UserStats(ctx context.Context, username string) (*models.UserRecord, error) {
	s.cancel()
	return nil, ctx.Err()
}

func TestOrchestrator_CachedResultsMergedIntoOutput(t *testing.T) {
	stats := newScriptedStats()
	store := &memStore{
		progress: &models.Progress{CompletedUsers: []string{"alice"}},
		results: []*models.UserRecord{
			{Username: "alice", Totals: models.OrgStats{Commits: 9}},
		},
	}
	orch := New(stats, store, stubGate{}, testLogger())

	results, err := orch.Run(context.Background(), []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Zero(t, stats.fetches["alice"])

	byName := make(map[string]*models.UserRecord)
	for _, record := range results {
		byName[record.Username] = record
	}
	assert.Equal(t, 9, byName["alice"].Totals.Commits)
	require.Contains(t, byName, "bob")
}
