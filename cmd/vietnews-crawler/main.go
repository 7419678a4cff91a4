package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vietnews-crawler/internal/config"
	"vietnews-crawler/internal/crawler"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to crawler configuration file")
	sourceFilter := flag.String("source", "", "Restrict the run to a single source (eg. vnexpress)")
	categoryFilter := flag.String("category", "", "Restrict the run to a single category slug (eg. thoi-su)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *sourceFilter != "" {
		filterSources(cfg, *sourceFilter)
	}
	if *categoryFilter != "" {
		filterCategories(cfg, *categoryFilter)
	}

	logger, err := crawler.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	engine, err := crawler.New(*cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "crawler stopped with error: %v\n", err)
		os.Exit(1)
	}
}

func filterSources(cfg *config.Config, name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range cfg.Sources {
		if cfg.Sources[i].Name != name {
			cfg.Sources[i].Enabled = false
		}
	}
}

// filterCategories keeps only the named category; sources that do not list
// it are disabled for the run.
func filterCategories(cfg *config.Config, category string) {
	category = strings.ToLower(strings.TrimSpace(category))
	for i := range cfg.Sources {
		kept := cfg.Sources[i].Categories[:0]
		for _, c := range cfg.Sources[i].Categories {
			if c == category {
				kept = append(kept, c)
			}
		}
		cfg.Sources[i].Categories = kept
		if len(kept) == 0 {
			cfg.Sources[i].Enabled = false
		}
	}
}
