package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pq "github.com/lib/pq"

	"vietnews-crawler/internal/config"
	"vietnews-crawler/pkg/types"
)

// SQLStore mirrors article records into a relational table so downstream
// dataset tooling can query by source and category without parsing JSONL.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens the configured database and, when auto_migrate is set,
// ensures the articles table exists.
func NewSQLStore(cfg config.SQLConfig) (*SQLStore, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}

	store := &SQLStore{db: db}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// Append inserts one record. Re-inserting the same (source, title) pair is a
// no-op so reruns over an unchanged listing stay idempotent.
func (s *SQLStore) Append(ctx context.Context, rec types.Record) error {
	const stmt = `INSERT INTO articles (title, input, output, category, source, crawled_at)
	    VALUES ($1, $2, $3, $4, $5, NOW())
	    ON CONFLICT (source, title) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, stmt,
		rec.Title, rec.Input, rec.Output, rec.Category, rec.Source); err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS articles (
		    id BIGSERIAL PRIMARY KEY,
		    title TEXT NOT NULL,
		    input TEXT NOT NULL,
		    output TEXT NOT NULL,
		    category TEXT NOT NULL,
		    source TEXT NOT NULL,
		    crawled_at TIMESTAMPTZ NOT NULL,
		    UNIQUE (source, title)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_category ON articles (source, category)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			if isDuplicateObjectErr(err) {
				continue
			}
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// isDuplicateObjectErr absorbs races between concurrent engines migrating
// the same database.
func isDuplicateObjectErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P07" || pqErr.Code == "42710"
	}
	return false
}
