// Package fetcher issues single HTTP requests with timeout, retry,
// exponential backoff, proxy rotation, and rate-limit handling.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/proxy"
	"github.com/user/scraper-service/pkg/config"
	"github.com/user/scraper-service/pkg/metrics"
)

// maxBodyBytes caps response bodies to keep a hostile page from exhausting
// memory.
const maxBodyBytes = 10 * 1024 * 1024

// ErrPermanentStatus marks a non-retryable HTTP status (4xx other than 429).
// Retrying these would burn the whole backoff budget for no benefit.
var ErrPermanentStatus = errors.New("permanent http status")

// ProxySource supplies proxy endpoints to fetch attempts. The pool owns the
// endpoints; the fetcher only borrows one per attempt.
type ProxySource interface {
	Next(ctx context.Context) (proxy.Endpoint, bool)
	UserAgent() string
}

// Fetcher performs resilient HTTP requests. One instance is shared by all
// workers of a batch; the semaphore bounds concurrent fetches and is held
// for the full retry loop of each call.
type Fetcher struct {
	cfg     *config.Config
	proxies ProxySource
	permits *semaphore.Weighted
	pacer   *rate.Limiter
	client  *http.Client
}

// New builds a fetcher from the process config. proxies may be nil when
// proxying is disabled.
func New(cfg *config.Config, proxies ProxySource) *Fetcher {
	var pacer *rate.Limiter
	if d := cfg.RequestDelay(); d > 0 {
		pacer = rate.NewLimiter(rate.Every(d), 1)
	}
	return &Fetcher{
		cfg:     cfg,
		proxies: proxies,
		permits: semaphore.NewWeighted(int64(cfg.MaxThreads)),
		pacer:   pacer,
		client:  &http.Client{Timeout: cfg.RequestTimeout()},
	}
}

// Fetch issues one logical request, retrying transient failures up to
// MaxRetries times with exponential backoff and jitter. The returned result
// always reports how many attempts were made; exhaustion surfaces as
// Status=FetchFailed, never as a batch-level fault.
func (f *Fetcher) Fetch(ctx context.Context, method, url string, headers map[string]string, body []byte) *entity.FetchResult {
	if err := f.permits.Acquire(ctx, 1); err != nil {
		return failed(url, 0, 0, err)
	}
	defer f.permits.Release(1)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.RetryDelay()
	bo.Multiplier = 2
	bo.RandomizationFactor = 0 // jitter is added separately, uniform 0-0.5s
	bo.MaxInterval = 10 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()

	useProxy := f.cfg.UseProxy && f.proxies != nil
	var currentProxy proxy.Endpoint
	var haveProxy bool
	if useProxy {
		currentProxy, haveProxy = f.proxies.Next(ctx)
		if !haveProxy {
			slog.Debug("proxy pool empty, fetching directly", "url", url)
		}
	}

	var lastErr error
	attempts := 0
	lastStatus := 0
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		// Pace the first attempt; back off exponentially before retries.
		if attempt == 0 {
			if f.pacer != nil {
				if err := f.pacer.Wait(ctx); err != nil {
					return failed(url, attempts, lastStatus, err)
				}
			}
		} else {
			delay := bo.NextBackOff() + jitter()
			if err := sleep(ctx, delay); err != nil {
				return failed(url, attempts, lastStatus, err)
			}
		}

		attempts++
		status, respBody, err := f.attempt(ctx, method, url, headers, body, currentProxy, haveProxy)
		lastStatus = status

		if err == nil {
			metrics.FetchAttemptsTotal.WithLabelValues("success").Inc()
			return &entity.FetchResult{
				URL:        url,
				Status:     entity.FetchOK,
				Body:       respBody,
				HTTPStatus: status,
				Attempts:   attempts,
			}
		}
		lastErr = err

		if status == http.StatusTooManyRequests {
			// Rate limited: wait the base delay and try again within the
			// same retry budget.
			metrics.FetchAttemptsTotal.WithLabelValues("rate_limited").Inc()
			slog.Warn("rate limited, backing off", "url", url, "delay", f.cfg.RetryDelay())
			if attempt < f.cfg.MaxRetries {
				if serr := sleep(ctx, f.cfg.RetryDelay()); serr != nil {
					return failed(url, attempts, status, serr)
				}
			}
			continue
		}

		if errors.Is(err, ErrPermanentStatus) {
			metrics.FetchAttemptsTotal.WithLabelValues("permanent").Inc()
			slog.Warn("permanent failure, not retrying", "url", url, "status", status)
			return failed(url, attempts, status, err)
		}

		metrics.FetchAttemptsTotal.WithLabelValues("retryable").Inc()
		if attempt >= f.cfg.MaxRetries {
			break
		}

		// A failing proxy is swapped out before the next attempt.
		if haveProxy {
			slog.Warn("request through proxy failed, rotating", "url", url, "proxy", currentProxy.HTTP, "error", err)
			currentProxy, haveProxy = f.proxies.Next(ctx)
		}
		slog.Warn("request failed, will retry", "url", url, "error", err, "attempt", attempt+1, "max_retries", f.cfg.MaxRetries)
	}

	slog.Error("retries exhausted", "url", url, "attempts", attempts, "error", lastErr)
	return failed(url, attempts, lastStatus, lastErr)
}

// Get is shorthand for a GET fetch.
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) *entity.FetchResult {
	return f.Fetch(ctx, http.MethodGet, url, headers, nil)
}

// attempt performs exactly one HTTP round trip, through ep when withProxy is
// set. A non-2xx status is returned as an error alongside the status code.
func (f *Fetcher) attempt(ctx context.Context, method, url string, headers map[string]string, body []byte, ep proxy.Endpoint, withProxy bool) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", ErrPermanentStatus, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" && f.proxies != nil {
		if ua := f.proxies.UserAgent(); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
	}

	client := f.client
	if withProxy {
		proxyURL, perr := ep.ProxyURL()
		if perr != nil {
			return 0, nil, fmt.Errorf("invalid proxy %q: %w", ep.HTTP, perr)
		}
		client = &http.Client{
			Timeout:   f.cfg.RequestTimeout(),
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, nil, fmt.Errorf("http 429")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return resp.StatusCode, nil, fmt.Errorf("%w: http %d", ErrPermanentStatus, resp.StatusCode)
	default:
		return resp.StatusCode, nil, fmt.Errorf("http %d", resp.StatusCode)
	}
}

func failed(url string, attempts, status int, err error) *entity.FetchResult {
	return &entity.FetchResult{
		URL:        url,
		Status:     entity.FetchFailed,
		HTTPStatus: status,
		Attempts:   attempts,
		Err:        err,
	}
}

// jitter returns a uniform 0-0.5s delay so synchronized workers don't retry
// in lockstep.
func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
