package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/finlens/reportpipe/safeurl"
)

// FetchConfig configures URL retrieval.
type FetchConfig struct {
	// Timeout bounds a single fetch attempt. Default: 30s.
	Timeout time.Duration

	// MaxBytes caps the response body. Default: the service size ceiling.
	MaxBytes int64

	// Attempts is the total number of tries. Default: 3.
	Attempts int

	// Backoff is the delay before the second attempt; it doubles on each
	// further attempt. Default: 1s.
	Backoff time.Duration

	// UserAgent sent with requests.
	UserAgent string

	// URLValidator validates URLs before fetch (SSRF prevention).
	// Default: safeurl.ValidateURL.
	URLValidator func(string) error
}

func (c *FetchConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 50 * 1024 * 1024
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "reportpipe/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = safeurl.ValidateURL
	}
}

// Fetcher retrieves report PDFs over HTTP with capped retries and backoff.
type Fetcher struct {
	cfg    FetchConfig
	client *http.Client
}

// NewFetcher creates a Fetcher with SSRF protection on redirects.
func NewFetcher(cfg FetchConfig) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
	}
}

// Fetch retrieves a URL, retrying transient failures with exponential
// backoff. After the attempt cap is exhausted it returns ErrFetchFailed
// wrapping the last failure. Permanent client errors (4xx other than
// 408/429) fail immediately without retrying.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.cfg.URLValidator(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	var lastErr error
	backoff := f.cfg.Backoff
	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
			}
			backoff *= 2
		}

		data, retryable, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v (after %d attempts)", ErrFetchFailed, lastErr, f.cfg.Attempts)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (data []byte, retryable bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		// Network errors and timeouts are worth retrying unless the
		// caller's context is gone.
		return nil, ctx.Err() == nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := safeurl.LimitedReadAll(resp.Body, f.cfg.MaxBytes)
		if err != nil {
			return nil, false, fmt.Errorf("read body: %w", err)
		}
		return body, false, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("http %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("http %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("http %d", resp.StatusCode)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
