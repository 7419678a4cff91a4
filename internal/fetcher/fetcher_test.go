package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"vietnews-crawler/internal/config"
	"vietnews-crawler/internal/robots"
	"vietnews-crawler/pkg/types"
)

func newTestClient(t *testing.T, opts Options) (*Client, *[]time.Duration) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(opts, nil, logger)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	slept := &[]time.Duration{}
	client.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return client, slept
}

func requestFor(t *testing.T, raw string) Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return Request{URL: u}
}

func TestFetchRetriesTransientStatuses(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html><body>bài viết</body></html>"))
	}))
	defer server.Close()

	client, slept := newTestClient(t, Options{RetryTotal: 5, RetryBackoff: 500 * time.Millisecond})
	page, err := client.Fetch(context.Background(), requestFor(t, server.URL+"/bai-viet.html"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", page.Attempts)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %v", len(want), *slept)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("backoff %d: expected %v, got %v", i, d, (*slept)[i])
		}
	}
}

func TestFetchHonorsRetryAfter(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, slept := newTestClient(t, Options{RetryTotal: 3, RetryBackoff: 100 * time.Millisecond})
	if _, err := client.Fetch(context.Background(), requestFor(t, server.URL+"/")); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(*slept) != 1 {
		t.Fatalf("expected one backoff sleep, got %v", *slept)
	}
	if (*slept)[0] != 3*time.Second {
		t.Fatalf("expected Retry-After to override backoff with 3s, got %v", (*slept)[0])
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{RetryTotal: 5})
	_, err := client.Fetch(context.Background(), requestFor(t, server.URL+"/missing"))
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected a 404 StatusError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly one request for a 404, got %d", hits.Load())
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{RetryTotal: 3, RetryBackoff: time.Millisecond})
	_, err := client.Fetch(context.Background(), requestFor(t, server.URL+"/"))
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
	var statusErr *StatusError
	if !errors.As(exhausted.Last, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected wrapped 502 StatusError, got %v", exhausted.Last)
	}
}

func TestFetchBlockedByRobots(t *testing.T) {
	var pageHits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		pageHits.Add(1)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{RetryTotal: 3})
	client.UseRobots(robots.NewAgent(config.RobotsConfig{Respect: true}, server.Client()))

	_, err := client.Fetch(context.Background(), requestFor(t, server.URL+"/bai-viet.html"))
	if !errors.Is(err, ErrRobotsBlocked) {
		t.Fatalf("expected ErrRobotsBlocked, got %v", err)
	}
	if !IsTerminal(err) {
		t.Fatal("expected robots block to be terminal")
	}
	if pageHits.Load() != 0 {
		t.Fatalf("expected no page request, got %d", pageHits.Load())
	}
}

func TestFetchRejectsRelativeURL(t *testing.T) {
	client, _ := newTestClient(t, Options{})
	if _, err := client.Fetch(context.Background(), requestFor(t, "/relative")); err == nil {
		t.Fatal("expected an error for a relative URL")
	}
	if _, err := client.Fetch(context.Background(), Request{}); err == nil {
		t.Fatal("expected an error for a nil URL")
	}
}

func TestFetchDecodesGzipBody(t *testing.T) {
	const content = "<html><body><h1>Thời sự</h1></body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(content))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{})
	page, err := client.Fetch(context.Background(), requestFor(t, server.URL+"/"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(page.Body) != content {
		t.Fatalf("expected decoded body %q, got %q", content, page.Body)
	}
}

func TestFetchEnforcesBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{MaxBodyBytes: 1024})
	if _, err := client.Fetch(context.Background(), requestFor(t, server.URL+"/")); err == nil {
		t.Fatal("expected an error for an oversized body")
	}
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	var gotUA, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{Headers: map[string]string{"X-Crawl-Run": "test"}})
	if _, err := client.Fetch(context.Background(), requestFor(t, server.URL+"/")); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	known := false
	for _, ua := range userAgents {
		if ua == gotUA {
			known = true
		}
	}
	if !known {
		t.Fatalf("user agent %q is not from the rotation pool", gotUA)
	}
	if gotLang == "" || gotLang[:5] != "vi-VN" {
		t.Fatalf("expected Vietnamese Accept-Language, got %q", gotLang)
	}
}

func TestCompositeFallsBackToHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain"))
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	composite := NewComposite(client, failingRenderer{}, logger)

	req := requestFor(t, server.URL+"/")
	req.Render = true
	page, err := composite.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(page.Body) != "plain" {
		t.Fatalf("expected HTTP fallback body, got %q", page.Body)
	}
	if page.Rendered {
		t.Fatal("fallback page must not be marked as rendered")
	}
}

type failingRenderer struct{}

func (failingRenderer) Render(ctx context.Context, req Request) (*types.Page, error) {
	return nil, errors.New("browser unavailable")
}
