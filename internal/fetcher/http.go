package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dspace-submission-composer/internal/resilience"
)

// BrowserUserAgent is sent to publisher content APIs that reject
// non-browser clients.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/70.0.3538.77 Safari/537.36"

// maxBodySize caps how much of a response is read into memory.
const maxBodySize = 256 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	// RateLimiters overrides the per-host adaptive limiters.
	RateLimiters map[string]*AdaptiveLimiter
	// Breaker, when set, short-circuits requests after repeated failures.
	Breaker *resilience.CircuitBreaker
	// Query is merged into every request URL (e.g. Crossref's mailto).
	Query url.Values
}

// StatusError is returned for a non-retryable, non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// ContentTypeError is returned when a response body is not of the expected type.
type ContentTypeError struct {
	URL  string
	Want string
	Got  string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("unexpected content type %s from %s, want %s", e.Got, e.URL, e.Want)
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// DefaultRateLimiters returns adaptive limiters for the metadata and content
// hosts used by the workflows.
func DefaultRateLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"api.crossref.org":        NewAdaptiveLimiter(10, 10),
		"api.wiley.com":           NewAdaptiveLimiter(3, 3),
		"onlinelibrary.wiley.com": NewAdaptiveLimiter(3, 3),
	}
}

// HTTPFetcher implements Fetcher using net/http with retry, rate limiting and
// an optional circuit breaker.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "dsc/1.0"
	}
	limiters := opts.RateLimiters
	if limiters == nil {
		limiters = DefaultRateLimiters()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
	}
}

// limiterFor returns the limiter for the URL's host, creating a fixed 20 rps
// limiter for hosts with no configured limit.
func (f *HTTPFetcher) limiterFor(u *url.URL) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[u.Host]; ok {
		return lim
	}
	lim := &AdaptiveLimiter{
		limiter:     rate.NewLimiter(20, 20),
		maxRate:     20,
		minRate:     20,
		currentRate: 20,
	}
	f.limiters[u.Host] = lim
	return lim
}

func (f *HTTPFetcher) buildURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "http: parse url %q", rawURL)
	}
	if len(f.opts.Query) > 0 {
		q := u.Query()
		for k, vs := range f.opts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// do performs one GET with retries and returns the successful response.
func (f *HTTPFetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := f.buildURL(rawURL)
	if err != nil {
		return nil, err
	}
	lim := f.limiterFor(u)

	attempt := func(ctx context.Context) (*http.Response, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "http: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "http: get %s", rawURL), 0)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			lim.OnSuccess()
			return resp, nil
		}

		_ = resp.Body.Close()
		statusErr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	retry := f.opts.Retry.WithLogger("http", u.Host)
	withRetry := func(ctx context.Context) (*http.Response, error) {
		return resilience.DoVal(ctx, retry, attempt)
	}
	if f.opts.Breaker != nil {
		return resilience.ExecuteVal(ctx, f.opts.Breaker, withRetry)
	}
	return withRetry(ctx)
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.do(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	return resp.Body, nil
}

// Fetch fetches the URL and returns the whole response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, eris.Wrapf(err, "http: read body from %s", rawURL)
	}
	return data, nil
}

// FetchContent fetches the URL and checks the body's detected MIME type
// against want (e.g. "application/pdf"). Detection is done on the content
// since publishers often answer with an HTML interstitial and a 200.
func (f *HTTPFetcher) FetchContent(ctx context.Context, rawURL, want string) ([]byte, error) {
	data, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	mt := mimetype.Detect(data)
	if !mt.Is(want) {
		return nil, &ContentTypeError{URL: rawURL, Want: want, Got: strings.SplitN(mt.String(), ";", 2)[0]}
	}
	return data, nil
}

// FetchJSON fetches the URL and decodes the body as JSON into T.
func FetchJSON[T any](ctx context.Context, f Fetcher, rawURL string) (*T, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck
	return DecodeJSONObject[T](body)
}
