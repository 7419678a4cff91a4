package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"vietnews-crawler/internal/extract"
	"vietnews-crawler/internal/fetcher"
)

// Paginator discovers the full article URL set for one category by walking
// the site's listing pages.
type Paginator struct {
	site    *extract.Site
	fetcher fetcher.Fetcher
	logger  *slog.Logger

	// totalPages > 0 means the page count is known from configuration and
	// pages can be fetched concurrently; otherwise pages are probed
	// sequentially until one yields no entries.
	totalPages      int
	pageConcurrency int
	render          bool
}

// NewPaginator builds a paginator for one site.
func NewPaginator(site *extract.Site, f fetcher.Fetcher, logger *slog.Logger, totalPages, pageConcurrency int, render bool) *Paginator {
	if pageConcurrency <= 0 {
		pageConcurrency = 4
	}
	return &Paginator{
		site:            site,
		fetcher:         f,
		logger:          logger,
		totalPages:      totalPages,
		pageConcurrency: pageConcurrency,
		render:          render,
	}
}

// Discover returns the ordered, de-duplicated article URLs for a category.
// Discovery is restartable: re-running it over an unchanged listing yields
// the same URL set. A page that yields zero entries ends discovery without
// being an error. A fetch failure also ends discovery; the URLs collected so
// far are still returned alongside the error so the caller can crawl the
// partial set.
func (p *Paginator) Discover(ctx context.Context, category string) ([]string, error) {
	if p.totalPages > 0 {
		return p.discoverConcurrent(ctx, category)
	}
	return p.discoverSequential(ctx, category)
}

func (p *Paginator) discoverSequential(ctx context.Context, category string) ([]string, error) {
	var urls []string
	for page := 1; ; page++ {
		links, err := p.fetchPage(ctx, category, page)
		if err != nil {
			return dedupe(urls), err
		}
		if len(links) == 0 {
			break
		}
		urls = append(urls, links...)
	}
	return dedupe(urls), nil
}

// discoverConcurrent fetches a known page count in parallel and reassembles
// the links in page order, so the discovery artifact stays deterministic.
func (p *Paginator) discoverConcurrent(ctx context.Context, category string) ([]string, error) {
	pages := make([][]string, p.totalPages)
	var mu sync.Mutex
	var firstErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.pageConcurrency)
	for page := 1; page <= p.totalPages; page++ {
		page := page
		g.Go(func() error {
			links, err := p.fetchPage(gctx, category, page)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			pages[page-1] = links
			return nil
		})
	}
	_ = g.Wait()

	var urls []string
	for _, links := range pages {
		urls = append(urls, links...)
	}
	return dedupe(urls), firstErr
}

func (p *Paginator) fetchPage(ctx context.Context, category string, page int) ([]string, error) {
	pageURL := p.site.PageURL(category, page)
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := p.fetcher.Fetch(ctx, fetcher.Request{URL: parsed, Render: p.render})
	if err != nil {
		p.logger.Warn("listing page fetch failed",
			"url", pageURL, "category", category, "error", err)
		return nil, err
	}

	links, err := p.site.ListingLinks(doc.Body)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		p.logger.Info("could not find any items, possibly rate-limited",
			"url", pageURL, "category", category)
	}
	return links, nil
}

func dedupe(urls []string) []string {
	if len(urls) == 0 {
		return urls
	}
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
