package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	domain "github.com/maplewick/api/internal/domain"
)

const (
	defaultVerifyTimeout     = 8 * time.Second
	defaultVerifyMaxRetries  = 2
	defaultVerifyConcurrency = 5
	retryBackoffUnit         = time.Second
)

// Doer abstracts the HTTP client so tests can script responses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// VerifierDeps bundles constructor inputs for the URL verifier.
type VerifierDeps struct {
	Client Doer
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int
	// Concurrency caps parallel probes in VerifyAll.
	Concurrency int
	// RetryOnHTTPFailure retries even definitive non-2xx responses. Enabled
	// by default because storage frontends intermittently return 503 during
	// bucket rebalancing.
	RetryOnHTTPFailure bool
	Sleep              func(ctx context.Context, d time.Duration) error
}

type urlVerifier struct {
	client      Doer
	timeout     time.Duration
	maxRetries  int
	concurrency int
	retryOnHTTP bool
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewURLVerifier constructs the reachability verifier.
func NewURLVerifier(deps VerifierDeps) (URLVerifier, error) {
	if deps.Client == nil {
		return nil, errors.New("url verifier: http client is required")
	}
	v := &urlVerifier{
		client:      deps.Client,
		timeout:     deps.Timeout,
		maxRetries:  deps.MaxRetries,
		concurrency: deps.Concurrency,
		retryOnHTTP: deps.RetryOnHTTPFailure,
		sleep:       deps.Sleep,
	}
	if v.timeout <= 0 {
		v.timeout = defaultVerifyTimeout
	}
	if v.maxRetries < 0 {
		v.maxRetries = defaultVerifyMaxRetries
	}
	if v.concurrency <= 0 {
		v.concurrency = defaultVerifyConcurrency
	}
	if v.sleep == nil {
		v.sleep = sleepWithContext
	}
	return v, nil
}

// Verify probes a single URL, retrying with exponential backoff.
func (v *urlVerifier) Verify(ctx context.Context, rawURL string) domain.VerificationResult {
	result := domain.VerificationResult{URL: rawURL, Status: domain.VerificationPending}

	for attempt := 0; ; attempt++ {
		outcome := v.attempt(ctx, rawURL)
		result.RetryCount = attempt
		if outcome.ok {
			result.Status = domain.VerificationVerified
			result.Error = ""
			result.Class = ""
			return result
		}

		result.Error = outcome.message
		result.Class = outcome.class

		if attempt >= v.maxRetries {
			break
		}
		if !outcome.retryable && !(v.retryOnHTTP && outcome.class == domain.FailureHTTPStatus) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		backoff := retryBackoffUnit * time.Duration(1<<attempt)
		if err := v.sleep(ctx, backoff); err != nil {
			break
		}
	}

	result.Status = domain.VerificationFailed
	return result
}

// VerifyAll probes the URLs with bounded concurrency and returns results in
// input order.
func (v *urlVerifier) VerifyAll(ctx context.Context, urls []string) []domain.VerificationResult {
	results := make([]domain.VerificationResult, len(urls))
	if len(urls) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(v.concurrency))
	var wg sync.WaitGroup
	for i, rawURL := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = domain.VerificationResult{
				URL:    rawURL,
				Status: domain.VerificationFailed,
				Error:  fmt.Sprintf("verification cancelled: %v", err),
				Class:  domain.FailureNetwork,
			}
			continue
		}
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = v.Verify(ctx, rawURL)
		}(i, rawURL)
	}
	wg.Wait()
	return results
}

type attemptOutcome struct {
	ok        bool
	retryable bool
	class     domain.FailureClass
	message   string
}

// attempt issues a HEAD probe, falling back to GET when HEAD fails at the
// transport level. Some storage frontends reject HEAD outright while serving
// GET just fine.
func (v *urlVerifier) attempt(ctx context.Context, rawURL string) attemptOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.request(attemptCtx, http.MethodHead, rawURL)
	if err != nil {
		resp, err = v.request(attemptCtx, http.MethodGet, rawURL)
		if err != nil {
			return v.classifyTransportError(err)
		}
		defer drainAndClose(resp)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return httpStatusOutcome(resp)
		}
		// A GET response must actually carry an image, except 204 which has
		// no body to type.
		if resp.StatusCode != http.StatusNoContent {
			contentType := resp.Header.Get("Content-Type")
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
				return attemptOutcome{
					class:   domain.FailureContentType,
					message: fmt.Sprintf("Not an image: Content-Type is %s", contentType),
				}
			}
		}
		return attemptOutcome{ok: true}
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpStatusOutcome(resp)
	}
	return attemptOutcome{ok: true}
}

func (v *urlVerifier) request(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return v.client.Do(req)
}

func (v *urlVerifier) classifyTransportError(err error) attemptOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return attemptOutcome{
			retryable: true,
			class:     domain.FailureTimeout,
			message:   fmt.Sprintf("timed out after %s", v.timeout),
		}
	}
	return attemptOutcome{
		retryable: true,
		class:     domain.FailureNetwork,
		message:   fmt.Sprintf("network error: %v", err),
	}
}

func httpStatusOutcome(resp *http.Response) attemptOutcome {
	return attemptOutcome{
		class:   domain.FailureHTTPStatus,
		message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_ = resp.Body.Close()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
