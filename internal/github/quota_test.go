package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestQuotaTracker_Refresh(t *testing.T) {
	t.Run("successful refresh overwrites state", func(t *testing.T) {
		reset := time.Now().Add(30 * time.Minute).Unix()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/rate_limit", r.URL.Path)
			fmt.Fprintf(w, `{"resources":{"core":{"remaining":1234,"reset":%d}}}`, reset)
		}))
		defer server.Close()

		tracker := NewQuotaTracker(server.Client(), server.URL, testLogger())
		tracker.Refresh(context.Background())

		remaining, resetAt := tracker.Snapshot()
		assert.Equal(t, 1234, remaining)
		assert.Equal(t, time.Unix(reset, 0), resetAt)
	})

	t.Run("non-200 keeps prior state", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		tracker := NewQuotaTracker(server.Client(), server.URL, testLogger())
		tracker.Refresh(context.Background())

		remaining, _ := tracker.Snapshot()
		assert.Equal(t, defaultRemaining, remaining)
	})

	t.Run("network failure keeps prior state", func(t *testing.T) {
		server := httptest.NewServer(nil)
		server.Close()

		tracker := NewQuotaTracker(http.DefaultClient, server.URL, testLogger())
		tracker.Refresh(context.Background())

		remaining, _ := tracker.Snapshot()
		assert.Equal(t, defaultRemaining, remaining)
	})
}

func TestQuotaTracker_NoteFromHeaders(t *testing.T) {
	tracker := NewQuotaTracker(http.DefaultClient, "http://unused", testLogger())

	t.Run("quota headers overwrite state", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-RateLimit-Remaining", "42")
		header.Set("X-RateLimit-Reset", "1700000000")
		tracker.NoteFromHeaders(header)

		remaining, resetAt := tracker.Snapshot()
		assert.Equal(t, 42, remaining)
		assert.Equal(t, time.Unix(1700000000, 0), resetAt)
	})

	t.Run("absent headers are ignored", func(t *testing.T) {
		tracker.NoteFromHeaders(http.Header{})

		remaining, resetAt := tracker.Snapshot()
		assert.Equal(t, 42, remaining)
		assert.Equal(t, time.Unix(1700000000, 0), resetAt)
	})
}

func TestQuotaTracker_AwaitSafe(t *testing.T) {
	t.Run("returns immediately above the floor", func(t *testing.T) {
		tracker := NewQuotaTracker(http.DefaultClient, "http://unused", testLogger())

		start := time.Now()
		err := tracker.AwaitSafe(context.Background())
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("refreshes when below floor and past reset", func(t *testing.T) {
		refreshes := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			refreshes++
			fmt.Fprintf(w, `{"resources":{"core":{"remaining":5000,"reset":%d}}}`, time.Now().Add(time.Hour).Unix())
		}))
		defer server.Close()

		tracker := NewQuotaTracker(server.Client(), server.URL, testLogger())
		header := http.Header{}
		header.Set("X-RateLimit-Remaining", "2")
		header.Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(-time.Minute).Unix()))
		tracker.NoteFromHeaders(header)

		require.NoError(t, tracker.AwaitSafe(context.Background()))
		assert.Equal(t, 1, refreshes)

		remaining, _ := tracker.Snapshot()
		assert.Equal(t, 5000, remaining)
	})

	t.Run("wait is interruptible by cancellation", func(t *testing.T) {
		tracker := NewQuotaTracker(http.DefaultClient, "http://unused", testLogger())
		header := http.Header{}
		header.Set("X-RateLimit-Remaining", "2")
		header.Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
		tracker.NoteFromHeaders(header)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := tracker.AwaitSafe(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}
