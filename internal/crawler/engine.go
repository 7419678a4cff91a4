package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"vietnews-crawler/internal/config"
	"vietnews-crawler/internal/extract"
	"vietnews-crawler/internal/fetcher"
	"vietnews-crawler/internal/limiter"
	robotsclient "vietnews-crawler/internal/robots"
	"vietnews-crawler/internal/storage"
	"vietnews-crawler/pkg/types"
)

// Engine drives the full crawl for the configured sources: discover article
// URLs per category, fan the URL set out to a bounded worker pool, and
// persist extracted records. Per-URL failures are collected into a report;
// only configuration-level problems abort a run.
type Engine struct {
	cfg     config.Config
	fetcher fetcher.Fetcher
	logger  *slog.Logger

	sources []*source

	sqlStore *storage.SQLStore

	closers   []func() error
	closeOnce sync.Once
}

// source is one resolved site integration plus its per-source sink. Each
// source owns its own sink (and thus its own append lock), so two sources
// never cross-serialize their output streams.
type source struct {
	site    *extract.Site
	cfg     config.SourceConfig
	records storage.RecordStore
}

// New builds an engine from configuration.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lim := limiter.New(limiter.Settings{
		MinInterval:    cfg.Crawl.MinInterval(),
		BucketRequests: cfg.Crawl.RateLimitPerHost.Requests,
		BucketWindow:   cfg.Crawl.RateLimitPerHost.Window.Duration,
	})

	client, err := fetcher.NewClient(fetcher.Options{
		Timeout:         cfg.Crawl.RequestTimeout.Duration,
		RetryTotal:      cfg.Crawl.RetryTotal,
		RetryBackoff:    cfg.Crawl.RetryBackoff.Duration,
		RotateUserAgent: cfg.Crawl.RotateUserAgent,
		RotateChance:    cfg.Crawl.RotateChance,
		ProxyURL:        cfg.Crawl.ProxyURL,
		Headers:         cfg.Crawl.Headers,
		MaxBodyBytes:    cfg.Crawl.MaxBodyBytes,
	}, lim, logger)
	if err != nil {
		return nil, fmt.Errorf("fetch client: %w", err)
	}
	client.UseRobots(robotsclient.NewAgent(cfg.Robots, client.HTTPClient()))

	var f fetcher.Fetcher = client
	if cfg.Rendering.Enabled {
		switch strings.ToLower(cfg.Rendering.Engine) {
		case "chromedp", "chrome":
			renderer := fetcher.NewChromedpRenderer(fetcher.RenderOptions{
				Timeout:            cfg.Rendering.Timeout.Duration,
				WaitForSelector:    cfg.Rendering.WaitForSelector,
				MaxBodyBytes:       cfg.Crawl.MaxBodyBytes,
				DisableHeadless:    cfg.Rendering.DisableHeadless,
				ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
			}, logger)
			f = fetcher.NewComposite(client, renderer, logger)
		case "none":
			// Explicit opt-out even if enabled flag toggled.
		default:
			return nil, fmt.Errorf("unsupported rendering engine %q", cfg.Rendering.Engine)
		}
	}

	engine := &Engine{
		cfg:     cfg,
		fetcher: f,
		logger:  logger,
	}

	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		sqlStore, err := storage.NewSQLStore(cfg.DB)
		if err != nil {
			return nil, err
		}
		engine.sqlStore = sqlStore
		engine.closers = append(engine.closers, sqlStore.Close)
	}

	for _, srcCfg := range cfg.Sources {
		if !srcCfg.Enabled {
			continue
		}
		site, ok := extract.SiteForName(srcCfg.Name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", srcCfg.Name)
		}
		sink, err := storage.NewJSONLSink(cfg.Output.ResultsDir, site.Name)
		if err != nil {
			return nil, err
		}
		var records storage.RecordStore = sink
		if engine.sqlStore != nil {
			records = storage.NewPipeline(sink, engine.sqlStore)
		}
		engine.sources = append(engine.sources, &source{
			site:    site,
			cfg:     srcCfg,
			records: records,
		})
	}
	if len(engine.sources) == 0 {
		return nil, errors.New("no enabled sources")
	}

	return engine, nil
}

// Run crawls every category of every enabled source. It returns only
// whole-run errors; per-URL failures are logged and reported per category.
func (e *Engine) Run(ctx context.Context) error {
	defer e.Close()

	if err := os.MkdirAll(e.cfg.Output.URLsDir, 0o755); err != nil {
		return fmt.Errorf("create urls directory: %w", err)
	}

	for _, src := range e.sources {
		for _, category := range src.cfg.Categories {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := e.runCategory(ctx, src, category); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) runCategory(ctx context.Context, src *source, category string) error {
	logger := e.logger.With("source", src.site.Name, "category", category)
	logger.Info("getting article urls")

	paginator := NewPaginator(src.site, e.fetcher, e.logger,
		src.cfg.TotalPages, e.cfg.Worker.Concurrency, src.cfg.Render)
	urls, err := paginator.Discover(ctx, category)
	if err != nil && len(urls) == 0 {
		logger.Warn("discovery failed", "error", err)
	}

	urlsPath := filepath.Join(e.cfg.Output.URLsDir, src.site.URLFileName(category))
	if err := storage.WriteURLList(urlsPath, urls); err != nil {
		return err
	}

	logger.Info("crawling articles", "urls", len(urls))
	report, err := e.crawl(ctx, src, category, urls)
	if err != nil {
		return err
	}

	if report.HasFailures() {
		logger.Warn("crawl finished with failures",
			"written", report.Written, "failed", len(report.Failed))
		for _, u := range report.Failed {
			logger.Debug("failed url", "url", u)
		}
	} else {
		logger.Info("crawl finished", "written", report.Written)
	}
	return nil
}

// crawl fetches, extracts, and persists every URL, returning the subset
// that failed. It returns only after every submitted job reached a terminal
// state; a failing URL never aborts the run.
func (e *Engine) crawl(ctx context.Context, src *source, category string, urls []string) (types.Report, error) {
	report := types.Report{Submitted: len(urls)}
	if len(urls) == 0 {
		return report, nil
	}

	pool, err := NewWorkerPool(ctx, e.cfg.Worker.Concurrency, e.cfg.Worker.QueueSize)
	if err != nil {
		return report, err
	}
	defer pool.Close()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var written int
	var failed []string

	for _, u := range urls {
		job := types.Job{URL: u, Category: category, State: types.JobPending}
		wg.Add(1)
		submitErr := pool.Submit(ctx, func(workerCtx context.Context) {
			defer wg.Done()
			job.State = types.JobInFlight
			if err := e.crawlOne(workerCtx, src, job); err != nil {
				job.State = types.JobFailed
				job.Err = err
				e.logger.Warn("article crawl failed",
					"url", job.URL, "category", category, "error", err)
				mu.Lock()
				failed = append(failed, job.URL)
				mu.Unlock()
				return
			}
			job.State = types.JobWritten
			mu.Lock()
			written++
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			failed = append(failed, u)
			mu.Unlock()
		}
	}

	wg.Wait()
	report.Written = written
	report.Failed = failed
	return report, nil
}

var errNoArticleMarkup = errors.New("no matching article markup")

// crawlOne runs one job to a terminal state: fetch, extract, normalize,
// persist. Retries live inside the fetch client; a job is attempted at most
// once per run.
func (e *Engine) crawlOne(ctx context.Context, src *source, job types.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while crawling %s: %v", job.URL, r)
		}
	}()

	parsed, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}

	page, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: parsed, Render: src.cfg.Render})
	if err != nil {
		return err
	}

	article, ok := src.site.Extractor.Extract(page.Body)
	if !ok || article.Title == "" {
		// Listing false positive or a removed/paywalled article; a data
		// condition, not a system error.
		return errNoArticleMarkup
	}

	rec := buildRecord(article, src.site, job.Category)
	if err := src.records.Append(ctx, rec); err != nil {
		return err
	}
	return nil
}

// buildRecord assembles the dataset record: input is title plus body text,
// output is the summary with any leading source stamp stripped.
func buildRecord(article *extract.Article, site *extract.Site, category string) types.Record {
	title := strings.TrimSpace(article.Title)
	input := title
	if article.Body != "" {
		input += "\n" + article.Body
	}
	return types.Record{
		Title:    title,
		Input:    input,
		Output:   extract.StripSourceTag(article.Summary),
		Category: site.CategoryDisplay(category),
		Source:   site.Source,
	}
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for _, closer := range e.closers {
			if cerr := closer(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}
