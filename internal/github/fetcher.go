package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	apperrors "github.com/oss-eval/contribrank/internal/errors"
)

// Shape identifies which of the API's response layouts a PageResult
// was normalized from.
type Shape int

const (
	// ShapeList is a bare JSON array of records.
	ShapeList Shape = iota
	// ShapeItems is an object wrapping an "items" array plus a total count.
	ShapeItems
	// ShapeSingle is any other body; it terminates pagination.
	ShapeSingle
)

// PageResult is the accumulated result of one logical paginated query.
type PageResult struct {
	Shape      Shape
	Records    []json.RawMessage
	Items      []json.RawMessage
	TotalCount int
	Raw        json.RawMessage
}

// Entries returns the record sequence regardless of shape. Single-value
// results have no entries.
func (p *PageResult) Entries() []json.RawMessage {
	if p.Shape == ShapeItems {
		return p.Items
	}
	return p.Records
}

// Len returns the number of accumulated records.
func (p *PageResult) Len() int {
	return len(p.Entries())
}

// Fetcher issues logical queries against the GitHub API, following
// rel="next" pagination, consulting the quota tracker around every
// page, retrying transient failures, and memoizing completed queries
// by their full URL for the lifetime of the process.
type Fetcher struct {
	client  *http.Client
	quota   *QuotaTracker
	cache   *lru.Cache[string, *PageResult]
	limiter *rate.Limiter
	logger  *logrus.Logger

	maxRetries   int
	backoffUnit  time.Duration
	quotaRetries int
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRetryConfig configures the network retry count and the unit the
// exponential backoff is computed in.
func WithRetryConfig(maxRetries int, backoffUnit time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.maxRetries = maxRetries
		f.backoffUnit = backoffUnit
	}
}

// WithQuotaRetries caps how many times one query is restarted after a
// quota-exceeded response before failing.
func WithQuotaRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		f.quotaRetries = n
	}
}

// WithRequestsPerMinute installs a smoothing limiter consulted before
// every page request, independent of the hard quota floor.
func WithRequestsPerMinute(n int) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
	}
}

// NewFetcher creates a Fetcher. cacheSize bounds the query memo; it
// should comfortably exceed the number of distinct queries in one run.
func NewFetcher(client *http.Client, quota *QuotaTracker, cacheSize int, logger *logrus.Logger, opts ...FetcherOption) (*Fetcher, error) {
	cache, err := lru.New[string, *PageResult](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}

	f := &Fetcher{
		client:       client,
		quota:        quota,
		cache:        cache,
		limiter:      rate.NewLimiter(rate.Limit(80.0/60.0), 80),
		logger:       logger,
		maxRetries:   3,
		backoffUnit:  time.Second,
		quotaRetries: 5,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch runs one logical query, spanning as many wire pages as the API
// returns. Within one process lifetime a given query performs at most
// one successful network round-trip sequence; all later callers get
// the cached result. Quota-exceeded responses delay the query by
// restarting it after the reset, never resuming mid-pagination, so a
// partial accumulation can never be double-counted.
func (f *Fetcher) Fetch(ctx context.Context, query string) (*PageResult, error) {
	if result, ok := f.cache.Get(query); ok {
		f.logger.WithField("url", query).Debug("Using cached response")
		return result, nil
	}

	if err := f.quota.AwaitSafe(ctx); err != nil {
		return nil, err
	}

	var result *PageResult
	for attempt := 0; ; attempt++ {
		res, err := f.fetchAllPages(ctx, query)
		if err == nil {
			result = res
			break
		}

		var qe *apperrors.QuotaExceededError
		if !errors.As(err, &qe) {
			return nil, err
		}
		if attempt+1 >= f.quotaRetries {
			f.logger.WithField("url", query).Error("Quota restart budget exhausted")
			return nil, err
		}

		wait := time.Until(qe.ResetAt) + resetBuffer
		if wait > 0 {
			f.logger.WithFields(logrus.Fields{
				"url":  query,
				"wait": wait.Round(time.Second).String(),
			}).Warn("Rate limit exceeded, waiting before restarting query")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
		} else {
			f.quota.Refresh(ctx)
		}
	}

	f.cache.Add(query, result)
	return result, nil
}

// fetchAllPages walks the rel="next" chain for one query and merges
// every page into a single PageResult.
func (f *Fetcher) fetchAllPages(ctx context.Context, query string) (*PageResult, error) {
	var acc *PageResult
	next := query
	page := 0

	for next != "" {
		if page > 0 {
			if err := f.quota.AwaitSafe(ctx); err != nil {
				return nil, err
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, header, err := f.getPage(ctx, next)
		if err != nil {
			return nil, err
		}
		page++

		pr, err := normalizePage(body)
		if err != nil {
			return nil, fmt.Errorf("decoding page %d of %s: %w", page, query, err)
		}

		if acc == nil {
			acc = pr
			if acc.Shape == ShapeSingle {
				break
			}
		} else {
			switch acc.Shape {
			case ShapeList:
				acc.Records = append(acc.Records, pr.Entries()...)
			case ShapeItems:
				acc.Items = append(acc.Items, pr.Entries()...)
			}
		}

		next = nextLink(header.Get("Link"))
		if next != "" {
			f.logger.WithFields(logrus.Fields{
				"url":  strings.SplitN(query, "?", 2)[0],
				"page": page + 1,
			}).Debug("Fetching next page")
		}
	}

	return acc, nil
}

// getPage performs a single page request, retrying transport failures
// up to maxRetries times after the initial attempt with exponential
// backoff. HTTP-level failures are never retried here: quota
// exhaustion is signalled to the caller and every other non-200 status
// is terminal.
func (f *Fetcher) getPage(ctx context.Context, url string) ([]byte, http.Header, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			if attempt == f.maxRetries {
				break
			}
			backoff := time.Duration(1<<(attempt+1)) * f.backoffUnit
			f.logger.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"backoff": backoff.String(),
			}).Warn("Network error, retrying")
			if serr := sleepCtx(ctx, backoff); serr != nil {
				return nil, nil, serr
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		f.quota.NoteFromHeaders(resp.Header)
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(string(body)), "rate limit exceeded") {
			_, resetAt := f.quota.Snapshot()
			return nil, nil, apperrors.NewQuotaExceededError(resetAt)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, nil, apperrors.NewRequestError(resp.StatusCode, string(body))
		}

		return body, resp.Header, nil
	}

	return nil, nil, apperrors.NewNetworkError(url, f.maxRetries+1, lastErr)
}

// normalizePage classifies one response body into one of the two
// paginated shapes, or a terminal single value.
func normalizePage(body []byte) (*PageResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &PageResult{Shape: ShapeSingle, Raw: json.RawMessage(trimmed)}, nil
	}

	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return &PageResult{Shape: ShapeList, Records: records}, nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, err
		}
		itemsRaw, ok := fields["items"]
		if !ok {
			return &PageResult{Shape: ShapeSingle, Raw: json.RawMessage(trimmed)}, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(itemsRaw, &items); err != nil {
			return nil, err
		}
		pr := &PageResult{Shape: ShapeItems, Items: items}
		if tcRaw, ok := fields["total_count"]; ok {
			_ = json.Unmarshal(tcRaw, &pr.TotalCount)
		}
		return pr, nil
	default:
		return &PageResult{Shape: ShapeSingle, Raw: json.RawMessage(trimmed)}, nil
	}
}

// nextLink extracts the rel="next" target from a Link response header.
// An empty result ends pagination.
func nextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}
	return ""
}
