package certlib

/*
crtshadow — certificate transparency hostname extractor
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/x-stp/crtshadow/internal/client"
	"github.com/x-stp/crtshadow/internal/metrics"
)

// Constants related to the CT search service.
const (
	DefaultHost = "crt.sh"
	// QueryURLTemplate takes scheme, host and domain. "%25." is the URL-encoded "%." wildcard.
	QueryURLTemplate = "%s://%s/?q=%%25.%s&output=json"
)

// RetryPolicy describes how a single scheme's request sequence is repeated.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt; each later delay is
	// multiplied by Multiplier and capped at MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// RetryStatuses are the response codes that trigger another attempt.
	RetryStatuses []int
	// FallbackStatus, when the last HTTPS attempt returns it, triggers one full
	// sequence over plain HTTP. Zero disables the fallback.
	FallbackStatus int
}

// DefaultRetryPolicy returns five attempts with 1s, 2s, 4s, 8s delays between them,
// retrying 429 and 5xx gateway errors and falling back to HTTP on 503.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     16 * time.Second,
		Multiplier:     2,
		RetryStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		FallbackStatus: http.StatusServiceUnavailable,
	}
}

// Retries reports whether status is in the retry set.
func (p RetryPolicy) Retries(status int) bool {
	return slices.Contains(p.RetryStatuses, status)
}

// newBackOff builds the delay schedule for one request sequence. No jitter: the schedule
// is deterministic so that it can be reasoned about from the log output.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	// WithMaxRetries treats zero as unlimited.
	if p.MaxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// FetcherConfig holds the settings of a Fetcher. Zero fields take defaults.
type FetcherConfig struct {
	// Client is used for every attempt. Defaults to client.GetHTTPClient().
	Client *http.Client
	// Host is the search service host, without scheme.
	Host string
	// PreferHTTPS starts with https and enables the plain HTTP fallback.
	PreferHTTPS bool
	UserAgent   string
	Policy      *RetryPolicy
	// Limiter paces attempts. Nil means no pacing.
	Limiter *rate.Limiter
	// Logger receives progress lines. Nil discards them.
	Logger *log.Logger
}

// Fetcher queries the CT search service for certificates under a domain.
type Fetcher struct {
	client    *http.Client
	host      string
	https     bool
	userAgent string
	policy    RetryPolicy
	limiter   *rate.Limiter
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// NewFetcher creates a Fetcher from config. A nil config queries crt.sh over HTTPS
// with DefaultRetryPolicy.
func NewFetcher(config *FetcherConfig) *Fetcher {
	if config == nil {
		config = &FetcherConfig{PreferHTTPS: true}
	}
	f := &Fetcher{
		client:    config.Client,
		host:      config.Host,
		https:     config.PreferHTTPS,
		userAgent: config.UserAgent,
		policy:    DefaultRetryPolicy(),
		limiter:   config.Limiter,
		logger:    config.Logger,
		metrics:   metrics.GetMetrics(),
	}
	if f.client == nil {
		f.client = client.GetHTTPClient()
	}
	if f.host == "" {
		f.host = DefaultHost
	}
	if f.userAgent == "" {
		f.userAgent = client.BrowserUserAgent
	}
	if config.Policy != nil {
		f.policy = *config.Policy
	}
	if f.policy.MaxAttempts < 1 {
		f.policy.MaxAttempts = 1
	}
	if f.policy.Multiplier < 1 {
		f.policy.Multiplier = 1
	}
	if f.logger == nil {
		f.logger = log.New(io.Discard, "", 0)
	}
	return f
}

// QueryURL builds the JSON search URL for every certificate under domain.
func QueryURL(scheme, host, domain string) string {
	return fmt.Sprintf(QueryURLTemplate, scheme, host, url.QueryEscape(domain))
}

// Fetch returns every certificate record the service knows for domain and its subdomains.
// All failures are *FetchError. If the HTTPS sequence ends with the policy's fallback status,
// the whole sequence is repeated once over plain HTTP.
// Operation: Network bound. Blocks for at most the retry schedule, twice with fallback.
func (f *Fetcher) Fetch(ctx context.Context, domain string) ([]CertificateRecord, error) {
	scheme := "http"
	if f.https {
		scheme = "https"
	}

	records, err := f.fetchScheme(ctx, scheme, domain)
	if err == nil || scheme != "https" || f.policy.FallbackStatus == 0 {
		return records, err
	}
	if StatusCode(err) != f.policy.FallbackStatus {
		return nil, err
	}

	f.logger.Printf("HTTPS gave %d, retrying over HTTP", f.policy.FallbackStatus)
	f.metrics.ObserveFallback()
	return f.fetchScheme(ctx, "http", domain)
}

// fetchScheme runs one retried request sequence and decodes the result.
func (f *Fetcher) fetchScheme(ctx context.Context, scheme, domain string) ([]CertificateRecord, error) {
	target := QueryURL(scheme, f.host, domain)
	f.logger.Printf("Fetching %s", target)

	var body []byte
	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 {
			f.metrics.ObserveRetry(scheme)
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(&FetchError{Kind: KindTransport, URL: target, Err: err})
			}
		}
		b, err := f.do(ctx, scheme, target)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) && !fe.retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, next time.Duration) {
		f.logger.Printf("Attempt %d/%d failed: %v; retrying in %s", attempts, f.policy.MaxAttempts, err, next)
	}

	if err := backoff.RetryNotify(op, f.policy.newBackOff(ctx), notify); err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			// Context cancellation while waiting between attempts.
			fe = &FetchError{Kind: KindTransport, URL: target, Err: err}
		}
		fe.Attempts = attempts
		return nil, fe
	}

	f.metrics.ObserveResponseSize(len(body))
	f.logger.Printf("Received %s from %s", humanize.Bytes(uint64(len(body))), f.host)

	var records []CertificateRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &FetchError{Kind: KindParse, URL: target, Attempts: attempts, Err: err}
	}
	return records, nil
}

// do performs a single attempt and returns the body of a 2xx response.
func (f *Fetcher) do(ctx context.Context, scheme, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: target, Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ObserveRequest(scheme, 0, time.Since(start))
		// A cancelled run must not burn the remaining attempts.
		return nil, &FetchError{Kind: KindTransport, URL: target, Err: err, retryable: ctx.Err() == nil}
	}
	defer resp.Body.Close()
	f.metrics.ObserveRequest(scheme, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused by the next attempt.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{
			Kind:       KindStatus,
			URL:        target,
			StatusCode: resp.StatusCode,
			retryable:  f.policy.Retries(resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: target, Err: fmt.Errorf("error reading body: %w", err), retryable: ctx.Err() == nil}
	}
	return body, nil
}
