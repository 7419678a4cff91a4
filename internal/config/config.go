package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the crawl engine.
type Config struct {
	Sources   []SourceConfig  `yaml:"sources"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Worker    WorkerConfig    `yaml:"worker"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rendering RenderingConfig `yaml:"rendering"`
	DB        SQLConfig       `yaml:"db"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SourceConfig selects a news source and the category slugs to crawl from it.
type SourceConfig struct {
	Name       string   `yaml:"name"`
	Enabled    bool     `yaml:"enabled"`
	Categories []string `yaml:"categories"`
	// TotalPages > 0 fixes the listing page count in advance, which lets
	// discovery fetch pages concurrently instead of probing sequentially
	// for an empty page.
	TotalPages int  `yaml:"total_pages"`
	Render     bool `yaml:"render"`
}

// CrawlConfig controls fetch politeness, retries, and throttling.
type CrawlConfig struct {
	MaxRPS           float64           `yaml:"max_rps"`
	RequestTimeout   Duration          `yaml:"request_timeout"`
	RetryTotal       int               `yaml:"retry_total"`
	RetryBackoff     Duration          `yaml:"retry_backoff"`
	RotateUserAgent  bool              `yaml:"rotate_user_agent"`
	RotateChance     float64           `yaml:"rotate_chance"`
	ProxyURL         string            `yaml:"proxy_url"`
	Headers          map[string]string `yaml:"headers"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes"`
	RateLimitPerHost RateLimitConfig   `yaml:"rate_limit_per_host"`
}

// RateLimitConfig applies an additional token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// WorkerConfig controls article-crawl concurrency and queue sizing.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// RenderingConfig controls optional JavaScript rendering.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// SQLConfig describes an optional relational mirror for crawled records.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// OutputConfig locates the discovery and result artifacts on disk.
type OutputConfig struct {
	URLsDir    string `yaml:"urls_dir"`
	ResultsDir string `yaml:"results_dir"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			MaxRPS:          0.5,
			RequestTimeout:  DurationFrom(15 * time.Second),
			RetryTotal:      5,
			RetryBackoff:    DurationFrom(500 * time.Millisecond),
			RotateUserAgent: true,
			RotateChance:    0.1,
			Headers:         map[string]string{},
			MaxBodyBytes:    6 * 1024 * 1024,
		},
		Worker: WorkerConfig{
			Concurrency: 10,
			QueueSize:   512,
		},
		Robots: RobotsConfig{
			Respect:   true,
			Overrides: []string{},
			UserAgent: "vietnews-crawler-bot/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Engine:             "chromedp",
			Timeout:            DurationFrom(15 * time.Second),
			ConcurrentSessions: 2,
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
		Output: OutputConfig{
			URLsDir:    "data/urls",
			ResultsDir: "data/results",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the crawl configuration.
func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("at least one source must be configured")
	}
	for i := range c.Sources {
		src := c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("source %d has empty name", i)
		}
		if src.Enabled && len(src.Categories) == 0 {
			return fmt.Errorf("source %s is enabled but lists no categories", src.Name)
		}
		if src.TotalPages < 0 {
			return fmt.Errorf("source %s has invalid total_pages %d", src.Name, src.TotalPages)
		}
	}
	if c.Crawl.RetryTotal < 0 {
		return fmt.Errorf("crawl.retry_total must be >= 0 (got %d)", c.Crawl.RetryTotal)
	}
	if c.Crawl.RotateChance < 0 || c.Crawl.RotateChance > 1 {
		return fmt.Errorf("crawl.rotate_chance must be within [0,1] (got %g)", c.Crawl.RotateChance)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if rl := c.Crawl.RateLimitPerHost; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit_per_host.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set when robots.respect is true")
	}
	if strings.TrimSpace(c.Output.URLsDir) == "" {
		return errors.New("output.urls_dir must be set")
	}
	if strings.TrimSpace(c.Output.ResultsDir) == "" {
		return errors.New("output.results_dir must be set")
	}
	return nil
}

func (c *Config) normalise() {
	for i := range c.Sources {
		c.Sources[i].Name = strings.ToLower(strings.TrimSpace(c.Sources[i].Name))
		if len(c.Sources[i].Categories) > 0 {
			c.Sources[i].Categories = dedupeLower(c.Sources[i].Categories)
		}
	}
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
	c.Output.URLsDir = strings.TrimSpace(c.Output.URLsDir)
	c.Output.ResultsDir = strings.TrimSpace(c.Output.ResultsDir)
	c.Crawl.ProxyURL = strings.TrimSpace(c.Crawl.ProxyURL)
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// MinInterval derives the per-host politeness interval from the RPS ceiling.
// A non-positive ceiling disables waiting entirely.
func (c CrawlConfig) MinInterval() time.Duration {
	if c.MaxRPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.MaxRPS)
}

// Enabled reports whether per-host token bucket limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
