package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"vietnews-crawler/internal/config"
)

// Agent evaluates robots.txt rules with per-host caching and overrides.
// A host's rules are fetched once, on first use; any fetch or parse error is
// cached as "allow everything" so a flaky robots endpoint can never starve a
// host for the rest of the run.
type Agent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	respect   bool

	mu        sync.Mutex
	cache     map[string]*hostEntry
	overrides map[string]struct{}
}

type hostEntry struct {
	once    sync.Once
	fetched time.Time
	// rules is nil when robots.txt could not be fetched or parsed; nil
	// means allow.
	rules *robotstxt.RobotsData
}

// NewAgent constructs a robots agent from configuration.
func NewAgent(cfg config.RobotsConfig, client *http.Client) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	ttl := cfg.CacheTTL.Duration
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	overrides := make(map[string]struct{}, len(cfg.Overrides))
	for _, host := range cfg.Overrides {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		overrides[host] = struct{}{}
	}

	return &Agent{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		respect:   cfg.Respect,
		cache:     make(map[string]*hostEntry),
		overrides: overrides,
	}
}

// Allowed reports whether the target URL is permitted.
func (a *Agent) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}
	if !a.respect {
		return true
	}

	host := strings.ToLower(target.Hostname())
	if _, ok := a.overrides[host]; ok {
		return true
	}

	entry := a.entry(ctx, target)
	if entry.rules == nil {
		return true
	}

	group := entry.rules.FindGroup(a.userAgent)
	if group == nil {
		group = entry.rules.FindGroup("*")
		if group == nil {
			return true
		}
	}
	return group.Test(target.Path)
}

// entry returns the cached rules for the target's host, fetching them exactly
// once even when multiple workers race on a cold host.
func (a *Agent) entry(ctx context.Context, target *url.URL) *hostEntry {
	host := strings.ToLower(target.Host)

	a.mu.Lock()
	entry, ok := a.cache[host]
	if ok && a.expired(entry) {
		entry = nil
		ok = false
	}
	if !ok {
		entry = &hostEntry{fetched: time.Now()}
		a.cache[host] = entry
	}
	a.mu.Unlock()

	entry.once.Do(func() {
		rules, err := a.fetch(ctx, target)
		if err != nil {
			// Fail open: an unreachable or malformed robots.txt must
			// never block the host.
			return
		}
		entry.rules = rules
	})
	return entry
}

func (a *Agent) expired(entry *hostEntry) bool {
	return time.Since(entry.fetched) > a.ttl
}

func (a *Agent) fetch(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
