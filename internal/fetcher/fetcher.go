package fetcher

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-sync/internal/config"
	"github.com/sells-group/catalog-sync/internal/resilience"
)

// Result is one successfully retrieved document.
type Result struct {
	URL         string      `json:"url"`
	StatusCode  int         `json:"status_code"`
	Headers     http.Header `json:"headers"`
	Body        string      `json:"body"`
	ContentType string      `json:"content_type"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

// politeHeaders are sent with every request. The fetcher presents itself as
// an ordinary browser session and never tries to defeat bot protection.
var politeHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
}

// Fetcher retrieves documents strictly one at a time with configurable
// delays, identity rotation, and retry with exponential backoff.
type Fetcher struct {
	client *http.Client
	cfg    config.FetchConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher from the fetch configuration.
func New(cfg config.FetchConfig) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout(),
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				MaxConnsPerHost:     2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchMany retrieves the given URLs strictly sequentially, sleeping the
// configured delay (±20% jitter) between successive requests. A blocked
// response aborts the sequence and propagates; other failures skip that URL.
// The returned results hold every document fetched before any abort.
func (f *Fetcher) FetchMany(ctx context.Context, urls []string) ([]Result, error) {
	results := make([]Result, 0, len(urls))

	for i, u := range urls {
		res, err := f.FetchOne(ctx, u)
		if err != nil {
			if resilience.IsBlocked(err) {
				zap.L().Error("fetch blocked, aborting sequence",
					zap.String("url", u),
					zap.Int("fetched_so_far", len(results)),
					zap.Error(err),
				)
				return results, err
			}
			zap.L().Warn("fetch failed, continuing with next url",
				zap.String("url", u),
				zap.Error(err),
			)
		} else {
			results = append(results, *res)
		}

		if i < len(urls)-1 {
			if err := f.waitBetweenRequests(ctx); err != nil {
				return results, eris.Wrap(err, "fetcher: interrupted between requests")
			}
		}
	}

	return results, nil
}

// FetchOne retrieves a single URL, retrying retryable failures with
// exponential backoff (base × multiplier^(attempt-1)) up to MaxRetries
// additional attempts.
func (f *Fetcher) FetchOne(ctx context.Context, rawURL string) (*Result, error) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    f.cfg.MaxRetries + 1,
		InitialBackoff: f.cfg.RequestDelay(),
		Multiplier:     f.cfg.BackoffMultiplier,
		OnRetry:        resilience.RetryLogger("fetcher", rawURL),
	}

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Result, error) {
		return f.fetch(ctx, rawURL)
	})
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*Result, error) {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: build request for %s", rawURL)
	}
	for k, v := range politeHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", f.randomUserAgent())
	if u, perr := url.Parse(rawURL); perr == nil {
		req.Header.Set("Referer", u.Scheme+"://"+u.Host)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.ClassifyTransport(rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.ClassifyStatus(rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.ClassifyTransport(rawURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}

	zap.L().Info("fetched url",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", contentType),
		zap.Int("body_bytes", len(body)),
		zap.Duration("duration", time.Since(start)),
	)

	return &Result{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header,
		Body:        string(body),
		ContentType: contentType,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// waitBetweenRequests sleeps the configured inter-request delay with ±20%
// jitter so the request cadence is not machine-regular.
func (f *Fetcher) waitBetweenRequests(ctx context.Context) error {
	base := float64(f.cfg.RequestDelay())
	delay := time.Duration(base * (0.8 + 0.4*rand.Float64()))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) randomUserAgent() string {
	agents := f.cfg.UserAgents
	if len(agents) == 0 {
		return "catalog-sync/1.0"
	}
	return agents[rand.IntN(len(agents))]
}

// limiterFor returns the per-host politeness limiter, creating it on first
// use. The sustained rate mirrors the configured request delay so retries
// can never burst faster than ordinary sequencing would.
func (f *Fetcher) limiterFor(rawURL string) *rate.Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Host)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.cfg.RequestDelay()), 1)
		f.limiters[host] = lim
	}
	return lim
}
