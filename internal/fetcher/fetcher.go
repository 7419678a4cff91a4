package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"vietnews-crawler/internal/limiter"
	"vietnews-crawler/internal/robots"
	"vietnews-crawler/pkg/types"
)

// A small pool of realistic desktop/mobile user agents.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Linux; Android 11; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Request identifies one document to fetch.
type Request struct {
	URL    *url.URL
	Render bool
}

// Fetcher retrieves a web page.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*types.Page, error)
}

// Options controls HTTP fetching behaviour.
type Options struct {
	Timeout         time.Duration
	RetryTotal      int
	RetryBackoff    time.Duration
	RotateUserAgent bool
	RotateChance    float64
	ProxyURL        string
	Headers         map[string]string
	MaxBodyBytes    int64
}

// Client is a polite HTTP fetcher: it gates every request on robots.txt,
// spaces requests per host through the limiter, rotates user agents, and
// retries transient failures with exponential backoff.
type Client struct {
	client       *http.Client
	limiter      *limiter.HostLimiter
	robots       *robots.Agent
	logger       *slog.Logger
	extraHeaders map[string]string

	timeout      time.Duration
	retryTotal   int
	retryBackoff time.Duration
	rotate       bool
	rotateChance float64
	maxBodyBytes int64

	mu        sync.Mutex
	userAgent string

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a polite fetch client using the provided options.
func NewClient(opts Options, lim *limiter.HostLimiter, logger *slog.Logger) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryTotal <= 0 {
		opts.RetryTotal = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.RotateChance <= 0 {
		opts.RotateChance = 0.1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		limiter:      lim,
		logger:       logger,
		extraHeaders: headers,
		timeout:      opts.Timeout,
		retryTotal:   opts.RetryTotal,
		retryBackoff: opts.RetryBackoff,
		rotate:       opts.RotateUserAgent,
		rotateChance: opts.RotateChance,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgent:    userAgents[rand.Intn(len(userAgents))],
		sleep:        sleepContext,
	}, nil
}

// UseRobots gates future fetches on the given agent. Must be called before
// the first Fetch; the agent typically shares this client's transport.
func (c *Client) UseRobots(agent *robots.Agent) {
	c.robots = agent
}

// HTTPClient exposes the underlying HTTP client for reuse (eg. robots.txt
// fetches share the connection pool).
func (c *Client) HTTPClient() *http.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Fetch downloads a single URL, honouring robots.txt, per-host spacing, and
// the retry policy for transient failures.
func (c *Client) Fetch(ctx context.Context, req Request) (*types.Page, error) {
	if req.URL == nil {
		return nil, errors.New("request URL is nil")
	}
	if !req.URL.IsAbs() {
		return nil, fmt.Errorf("request URL %q is not absolute", req.URL)
	}

	if c.robots != nil && !c.robots.Allowed(ctx, req.URL) {
		return nil, fmt.Errorf("%w: %s", ErrRobotsBlocked, req.URL)
	}

	c.maybeRotateUserAgent()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, req.URL.Hostname()); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryTotal; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}

		page, err := c.do(ctx, req, attempt)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if IsTerminal(err) {
			return nil, err
		}
		c.logger.Debug("transient fetch failure",
			"url", req.URL.String(), "attempt", attempt, "error", err)
	}

	return nil, &RetryExhaustedError{Attempts: c.retryTotal, Last: lastErr}
}

// backoff computes the delay before the given attempt: exponential from the
// configured base, overridden by a larger server-supplied Retry-After.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	delay := c.retryBackoff << (attempt - 2)
	var statusErr *StatusError
	if errors.As(lastErr, &statusErr) && statusErr.retryAfter > delay {
		delay = statusErr.retryAfter
	}
	return delay
}

func (c *Client) do(ctx context.Context, req Request, attempt int) (*types.Page, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.currentUserAgent())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range c.extraHeaders {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			retryAfter: retryAfter(resp),
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusErr
	}

	body, err := c.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return &types.Page{
		URL:             req.URL,
		FinalURL:        finalURL,
		Body:            body,
		ContentType:     resp.Header.Get("Content-Type"),
		StatusCode:      resp.StatusCode,
		Headers:         resp.Header.Clone(),
		FetchedAt:       time.Now(),
		Attempts:        attempt,
		ResponseLatency: time.Since(start),
	}, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, c.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.maxBodyBytes)
	}
	return body, nil
}

func (c *Client) currentUserAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userAgent
}

// maybeRotateUserAgent swaps the active user agent with a small probability.
// This is a politeness heuristic, not correctness-relevant.
func (c *Client) maybeRotateUserAgent() {
	if !c.rotate {
		return
	}
	if rand.Float64() >= c.rotateChance {
		return
	}
	c.mu.Lock()
	c.userAgent = userAgents[rand.Intn(len(userAgents))]
	c.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Composite chooses between raw HTTP and a renderer per request.
type Composite struct {
	defaultFetcher Fetcher
	renderer       Renderer
	logger         *slog.Logger
}

// Renderer executes JavaScript and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, req Request) (*types.Page, error)
}

// NewComposite builds a composite fetcher from HTTP and optional renderer components.
func NewComposite(httpFetcher Fetcher, renderer Renderer, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{defaultFetcher: httpFetcher, renderer: renderer, logger: logger}
}

// Fetch delegates to either the renderer (when requested) or the HTTP fetcher.
func (c *Composite) Fetch(ctx context.Context, req Request) (*types.Page, error) {
	if req.Render && c.renderer != nil {
		page, err := c.renderer.Render(ctx, req)
		if err == nil {
			return page, nil
		}
		c.logger.Warn("renderer failed, falling back to HTTP fetch",
			"url", req.URL.String(), "error", err)
	}
	req.Render = false
	return c.defaultFetcher.Fetch(ctx, req)
}
