// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package app connects the backing services and assembles the ingestion
// pipeline shared by the server and the backfill CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/spendscan/internal/config"
	"github.com/bcem/spendscan/internal/dedup"
	"github.com/bcem/spendscan/internal/extract"
	"github.com/bcem/spendscan/internal/gmail"
	"github.com/bcem/spendscan/internal/ingest"
	"github.com/bcem/spendscan/internal/invoice"
	"github.com/bcem/spendscan/internal/vendor"
)

// App holds the connected services and the assembled orchestrator.
type App struct {
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Tokens       *gmail.PGTokenStore
	Vendors      *vendor.Store
	Invoices     *invoice.Store
	Connector    *gmail.Connector
	Orchestrator *ingest.Orchestrator

	closers []func() error
}

// Build connects to Postgres and Redis, ensures schemas, seeds the curated
// vendor catalog and wires the pipeline. Call Close when done, even after
// an error.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	// --- PostgreSQL ---
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return a, fmt.Errorf("create postgres pool: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	if err := pool.Ping(ctx); err != nil {
		return a, fmt.Errorf("connect to postgres: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	// --- Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return a, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.Redis = redis.NewClient(opt)
	a.closers = append(a.closers, a.Redis.Close)
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return a, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
	if a.Tokens, err = gmail.NewPGTokenStore(ctx, pool); err != nil {
		return a, err
	}
	if a.Vendors, err = vendor.NewStore(ctx, pool); err != nil {
		return a, err
	}
	if err := a.Vendors.Seed(ctx, vendor.Curated()); err != nil {
		return a, fmt.Errorf("seed vendor catalog: %w", err)
	}
	if a.Invoices, err = invoice.NewStore(ctx, pool); err != nil {
		return a, err
	}

	// --- Gmail ---
	a.Connector = gmail.NewConnector(gmail.ConnectorConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	}, a.Tokens)

	searcher := gmail.NewSearcher(a.Connector, a.Vendors, gmail.SearchConfig{
		BroadCap:  cfg.Ingest.BroadCap,
		HardCap:   cfg.Ingest.MaxResultsCap,
		ChunkSize: cfg.Ingest.ChunkSize,
	})

	contentCfg := gmail.ContentConfig{}
	if cfg.Ingest.PDFAttachments {
		contentCfg.PDF = gmail.FitzPDF{}
	}
	content := gmail.NewContentExtractor(a.Connector, contentCfg)

	// --- LLM ---
	llm, closeLLM, err := extract.NewCompleter(ctx, extract.BackendConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return a, fmt.Errorf("create llm backend: %w", err)
	}
	a.closers = append(a.closers, closeLLM)

	extractCfg := extract.DefaultConfig()
	extractCfg.MaxTokens = cfg.LLM.MaxTokens
	extractCfg.ContentLimit = cfg.Ingest.ContentLimit

	a.Orchestrator = ingest.New(ingest.Deps{
		Search:    searcher,
		Content:   content,
		Extractor: extract.NewExtractor(llm, extractCfg),
		Resolver:  vendor.NewResolver(a.Vendors),
		Catalog:   a.Vendors,
		Invoices:  a.Invoices,
		Claims:    dedup.NewClaims(a.Redis, cfg.Ingest.ClaimTTL),
	}, IngestConfig(cfg))

	slog.Info("ingestion pipeline ready",
		"llm_provider", cfg.LLM.Provider,
		"pdf_attachments", cfg.Ingest.PDFAttachments,
		"batch_size", cfg.Ingest.BatchSize,
	)
	return a, nil
}

// IngestConfig maps the loaded configuration onto orchestrator settings.
func IngestConfig(cfg *config.Config) ingest.Config {
	return ingest.Config{
		BatchSize:       cfg.Ingest.BatchSize,
		DriftDays:       cfg.Ingest.DriftDays,
		DefaultDaysBack: cfg.Ingest.DefaultDaysBack,
		MaxResultsCap:   cfg.Ingest.MaxResultsCap,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
