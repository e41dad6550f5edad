package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultUserAgent is sent by the web tools unless configured otherwise.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	// DefaultTimeout bounds a single web request.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxRetries is the number of retries after a transient failure.
	DefaultMaxRetries = 2

	maxBodyBytes = 5 << 20
)

// StatusError reports a non-200 response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Failed to retrieve the webpage. Status code: %d", e.StatusCode)
}

// Fetcher performs GET requests with a fixed User-Agent, retrying transient
// failures (network errors, 429 and 5xx) with exponential backoff.
type Fetcher struct {
	HTTPClient      *http.Client
	UserAgent       string
	MaxRetries      uint64
	InitialInterval time.Duration
	logger          zerolog.Logger
}

// NewFetcher creates a Fetcher. Zero values select the defaults.
func NewFetcher(userAgent string, timeout time.Duration, maxRetries uint64, logger zerolog.Logger) *Fetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		HTTPClient:      &http.Client{Timeout: timeout},
		UserAgent:       userAgent,
		MaxRetries:      maxRetries,
		InitialInterval: 500 * time.Millisecond,
		logger:          logger.With().Str("component", "fetcher").Logger(),
	}
}

// Get fetches url and returns the response body.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.InitialInterval
	eb.Multiplier = 2.0
	eb.MaxInterval = 10 * time.Second
	eb.RandomizationFactor = 0.2
	eb.Reset()

	b := backoff.WithMaxRetries(eb, f.MaxRetries)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", f.UserAgent)

		resp, err := f.HTTPClient.Do(req)
		if err != nil {
			f.logger.Warn().Err(err).Str("url", url).Msg("Fetch failed, retrying")
			return err
		}
		defer resp.Body.Close() //nolint:errcheck // Body close error can be ignored

		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{StatusCode: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				f.logger.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("Transient status, retrying")
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
