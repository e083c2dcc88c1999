// Package github implements the rate-governed GitHub API aggregation
// engine: quota tracking, paginated fetching with a process-lifetime
// cache, and per-user contribution statistics.
package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// quotaFloor is the remaining-request threshold below which the
	// tracker blocks callers until the quota window resets.
	quotaFloor = 10
	// resetBuffer pads every wait past the advertised reset time to
	// absorb clock skew between this host and the API.
	resetBuffer = 5 * time.Second
	// defaultRemaining is assumed until the first refresh or response
	// header reports the real value.
	defaultRemaining = 5000
)

// QuotaTracker holds the current remaining-request count and reset
// timestamp for the GitHub API. State is rebuilt on every process
// start; it is never persisted.
type QuotaTracker struct {
	client  *http.Client
	baseURL string
	logger  *logrus.Logger

	mu        sync.Mutex
	remaining int
	resetAt   time.Time
}

// NewQuotaTracker creates a tracker that queries baseURL's rate_limit
// endpoint through client.
func NewQuotaTracker(client *http.Client, baseURL string, logger *logrus.Logger) *QuotaTracker {
	return &QuotaTracker{
		client:    client,
		baseURL:   baseURL,
		logger:    logger,
		remaining: defaultRemaining,
	}
}

// Refresh queries the rate_limit endpoint and overwrites the tracked
// state on success. Any failure leaves the prior state in place and
// logs a warning; Refresh never fails the caller.
func (q *QuotaTracker) Refresh(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/rate_limit", nil)
	if err != nil {
		q.logger.WithError(err).Warn("Failed to build rate limit request")
		return
	}

	resp, err := q.client.Do(req)
	if err != nil {
		q.logger.WithError(err).Warn("Error checking rate limits")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		q.logger.WithField("status", resp.StatusCode).Warn("Couldn't fetch rate limit info")
		return
	}

	var payload struct {
		Resources struct {
			Core struct {
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		q.logger.WithError(err).Warn("Error reading rate limit response")
		return
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		q.logger.WithError(err).Warn("Error decoding rate limit response")
		return
	}

	q.mu.Lock()
	q.remaining = payload.Resources.Core.Remaining
	q.resetAt = time.Unix(payload.Resources.Core.Reset, 0)
	q.mu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"remaining": payload.Resources.Core.Remaining,
		"reset_at":  time.Unix(payload.Resources.Core.Reset, 0).Format(time.RFC3339),
	}).Debug("API rate limit refreshed")
}

// NoteFromHeaders updates the tracked state from per-response quota
// headers. Responses without quota headers are silently ignored.
func (q *QuotaTracker) NoteFromHeaders(h http.Header) {
	remaining := h.Get("X-RateLimit-Remaining")
	reset := h.Get("X-RateLimit-Reset")
	if remaining == "" && reset == "" {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			q.remaining = n
		}
	}
	if reset != "" {
		if ts, err := strconv.ParseInt(reset, 10, 64); err == nil {
			q.resetAt = time.Unix(ts, 0)
		}
	}
}

// Snapshot returns the current remaining count and reset time.
func (q *QuotaTracker) Snapshot() (int, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining, q.resetAt
}

// AwaitSafe blocks until it is safe to issue further requests. When the
// remaining count is below the floor it sleeps until the reset time
// plus a buffer, then refreshes the tracked state. The wait is
// interruptible through ctx; callers must not issue requests until
// AwaitSafe returns nil.
func (q *QuotaTracker) AwaitSafe(ctx context.Context) error {
	q.mu.Lock()
	remaining := q.remaining
	resetAt := q.resetAt
	q.mu.Unlock()

	if remaining >= quotaFloor {
		return nil
	}

	wait := time.Until(resetAt) + resetBuffer
	if wait > 0 {
		q.logger.WithField("wait", wait.Round(time.Second).String()).Info("Rate limit almost reached, waiting until reset")
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
	q.Refresh(ctx)
	q.logger.Debug("Resuming API calls")
	return nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
