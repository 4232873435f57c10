// Package rss fetches remote feeds and turns them into stored items.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Retry and timeout defaults.
const (
	DefaultRetries      = 3
	DefaultRetryDelay   = 100 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
	DefaultFeedDeadline = 2 * time.Minute
	DefaultUserAgent    = "feedsync/1.0 (+https://github.com/bryan-buckman/feedsync)"
)

// FeedFetcher retrieves and parses remote feed documents.
type FeedFetcher interface {
	FetchOne(ctx context.Context, feedURL string) (*gofeed.Feed, error)
	// FetchMany fetches every url concurrently. Each url's outcome is independent.
	FetchMany(ctx context.Context, feedURLs []string) map[string]FetchResult
}

// FetchResult holds the outcome of fetching a single feed.
type FetchResult struct {
	URL  string
	Feed *gofeed.Feed
	Err  error
}

// FetchError reports a feed that could not be retrieved or parsed after all retries.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetcherConfig tunes retries and timeouts. Zero values select the defaults;
// a negative Retries disables retrying.
type FetcherConfig struct {
	Retries      int
	RetryDelay   time.Duration
	Timeout      time.Duration // per HTTP attempt
	FeedDeadline time.Duration // per feed, retries included
	PerHost      int
	UserAgent    string
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FeedDeadline <= 0 {
		c.FeedDeadline = DefaultFeedDeadline
	}
	if c.PerHost <= 0 {
		c.PerHost = DefaultPerHost
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// Ensure Fetcher implements FeedFetcher interface.
var _ FeedFetcher = (*Fetcher)(nil)

// Fetcher handles HTTP feed retrieval with retries.
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	limiter *hostLimiter
}

// NewFetcher creates a fetcher. A nil client gets one with cfg.Timeout.
func NewFetcher(cfg FetcherConfig, client *http.Client) *Fetcher {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		limiter: newHostLimiter(cfg.PerHost),
	}
}

// FetchOne retrieves and parses one feed, retrying transient failures.
// FeedDeadline covers the attempts only, not the wait for a host slot.
func (f *Fetcher) FetchOne(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	host := hostOf(feedURL)
	if err := f.limiter.acquire(ctx, host); err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	defer f.limiter.release(host)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.FeedDeadline)
	defer cancel()

	start := time.Now()
	attempt := 0
	feed, err := backoff.RetryNotifyWithData(func() (*gofeed.Feed, error) {
		attempt++
		fetchAttempts.Inc()
		return f.get(ctx, feedURL)
	}, f.retryPolicy(ctx), func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"url":     feedURL,
			"attempt": attempt,
			"wait":    wait,
		}).WithError(err).Debug("Retrying feed fetch")
	})
	fetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		fetchFailures.Inc()
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	return feed, nil
}

// retryPolicy is a fixed delay with jitter, capped at cfg.Retries retries.
func (f *Fetcher) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.RetryDelay
	b.MaxInterval = f.cfg.RetryDelay
	b.Multiplier = 1
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.cfg.Retries)), ctx)
}

func (f *Fetcher) get(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := gofeed.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	// gofeed.Parser keeps per-parse state, so each attempt gets its own.
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return feed, nil
}

// FetchMany fans out one goroutine per distinct url and collects results as
// they complete.
func (f *Fetcher) FetchMany(ctx context.Context, feedURLs []string) map[string]FetchResult {
	feedURLs = lo.Uniq(feedURLs)
	results := make(map[string]FetchResult, len(feedURLs))
	if len(feedURLs) == 0 {
		return results
	}

	resultChan := make(chan FetchResult, len(feedURLs))
	for _, u := range feedURLs {
		go func(u string) {
			feed, err := f.FetchOne(ctx, u)
			resultChan <- FetchResult{URL: u, Feed: feed, Err: err}
		}(u)
	}

	for range feedURLs {
		result := <-resultChan
		results[result.URL] = result
	}
	return results
}
