// Package fetcher issues page requests against the results endpoint with a
// shared connection pool, a fixed user agent and a bounded retry policy.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const MaxHops = 15

// ErrDisallowed is returned for URLs excluded by robots.txt. It is not retried.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Error describes one failed request.
type Error struct {
	URL        string
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
	// RequestsPerSecond caps request starts across all goroutines; 0 disables.
	RequestsPerSecond float64
	Retry             RetryPolicy
	// Transport overrides the default pooled transport (tests).
	Transport http.RoundTripper
}

// Client is safe for concurrent use. One instance is built per run and
// handed to every planner, harvester and discovery task.
type Client struct {
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
	retry     RetryPolicy
	robots    *robotstxt.Group
	log       *zap.Logger
}

func New(opts Options, log *zap.Logger) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxHops {
					return fmt.Errorf("stopped after %d redirects", MaxHops)
				}
				return nil
			},
		},
		userAgent: opts.UserAgent,
		limiter:   limiter,
		retry:     opts.Retry,
		log:       log,
	}
}

// UserAgent is sent on every request; other collectors reuse it.
func (c *Client) UserAgent() string { return c.userAgent }

// LoadRobots fetches robots.txt for the host of siteURL and applies the group
// matching the client's user agent to later requests. Failures leave the
// client unrestricted.
func (c *Client) LoadRobots(ctx context.Context, siteURL string) {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		c.log.Warn("cannot derive robots.txt location", zap.String("url", siteURL), zap.Error(err))
		return
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("robots.txt unavailable, ignoring", zap.String("url", robotsURL), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		c.log.Warn("robots.txt unparsable, ignoring", zap.String("url", robotsURL), zap.Error(err))
		return
	}
	c.robots = data.FindGroup(c.userAgent)
	c.log.Info("robots.txt applied", zap.String("url", robotsURL))
}

func (c *Client) allowed(rawURL string) bool {
	if c.robots == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return c.robots.Test(u.Path)
}

// Get performs exactly one request and returns the body decoded to UTF-8.
func (c *Client) Get(ctx context.Context, rawURL string) (string, error) {
	if !c.allowed(rawURL) {
		return "", &Error{URL: rawURL, Message: "blocked", Cause: ErrDisallowed}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &Error{URL: rawURL, Message: "rate limiter", Cause: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &Error{URL: rawURL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &Error{URL: rawURL, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection returns to the pool
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &Error{URL: rawURL, StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	utf8Reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		utf8Reader = resp.Body
	}
	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return "", &Error{URL: rawURL, StatusCode: resp.StatusCode, Message: "failed to read body", Cause: err}
	}
	return string(body), nil
}

// Fetch runs Get under the retry policy. After the last failed attempt it
// logs and returns "", so callers see a failed page as an empty one.
func (c *Client) Fetch(ctx context.Context, rawURL string) string {
	p := c.retry
	n := p.attempts()

	var (
		body      string
		attempt   int
		abandoned bool
	)
	op := func() error {
		attempt++
		if err := p.wait(ctx, p.jitter()); err != nil {
			abandoned = true
			return backoff.Permanent(err)
		}
		b, err := c.Get(ctx, rawURL)
		if err == nil {
			body = b
			return nil
		}
		if errors.Is(err, ErrDisallowed) || ctx.Err() != nil {
			abandoned = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.log.Debug("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", n),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}

	err := backoff.RetryNotifyWithTimer(op, p.schedule(ctx), notify, p.newTimer())
	switch {
	case err == nil:
		return body
	case abandoned || ctx.Err() != nil:
		c.log.Warn("fetch abandoned", zap.String("url", rawURL), zap.Error(err))
	default:
		c.log.Warn("fetch failed after retries", zap.String("url", rawURL), zap.Int("attempts", attempt), zap.Error(err))
	}
	return ""
}
