// Package fetch performs single result-page GETs with timeout, bounded retry
// and outcome classification.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// StatusError reports a non-2xx HTTP response. Such pages are never retried;
// the caller skips the page and still advances its progress counter.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.Code)
}

// ErrRetriesExhausted wraps the last transport error once every attempt has
// been consumed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Config controls Fetcher behavior. Zero values fall back to the defaults the
// original service shipped with.
type Config struct {
	UserAgent   string
	Headers     map[string]string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// Fetcher retrieves result pages through a shared colly collector, cloned per
// request so concurrent fetches never share callback state.
type Fetcher struct {
	base   *colly.Collector
	cfg    Config
	logger *zap.Logger
}

// New constructs a configured Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	base.IgnoreRobotsTxt = true
	base.AllowURLRevisit = true
	base.DetectCharset = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{base: base, cfg: cfg, logger: logger}
}

// Fetch GETs url, retrying transport-level failures with exponential backoff
// (base, 2x, 4x, ...). A non-2xx response is returned immediately as a
// *StatusError. An in-flight request is allowed to complete after ctx is
// canceled; cancellation is honored between attempts.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := f.cfg.BackoffBase << (attempt - 1)
			f.logger.Debug("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
			)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("fetch %s: %w", url, ctx.Err())
			case <-time.After(delay):
			}
		}

		html, err := f.fetchOnce(url)
		if err == nil {
			return html, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("fetch %s: %w", url, ctx.Err())
		}
		lastErr = err
	}
	return "", fmt.Errorf("fetch %s: %w: %w", url, ErrRetriesExhausted, lastErr)
}

type fetchResult struct {
	body string
	err  error
}

func (f *Fetcher) fetchOnce(url string) (string, error) {
	collector := f.base.Clone()

	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range f.cfg.Headers {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			send(fetchResult{err: &StatusError{Code: r.StatusCode}})
			return
		}
		send(fetchResult{body: string(r.Body)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			send(fetchResult{err: &StatusError{Code: r.StatusCode}})
			return
		}
		if err == nil {
			err = errors.New("unknown collector error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(url); err != nil {
		return "", err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		return res.body, res.err
	default:
		return "", errors.New("fetch produced no result")
	}
}
