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

// SpendScan Invoice Ingestion Service
//
// Entry point for the ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis and seeds the vendor catalog
//  3. Wires Gmail search, content extraction, the LLM extractor and vendor resolution
//  4. Consumes queued scan jobs from Redis
//  5. Runs the periodic resync of users with tracked vendors
//  6. Serves the HTTP API for scans, reports and health
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bcem/spendscan/internal/aggregate"
	"github.com/bcem/spendscan/internal/api"
	"github.com/bcem/spendscan/internal/app"
	"github.com/bcem/spendscan/internal/config"
	"github.com/bcem/spendscan/internal/ingest"
	"github.com/bcem/spendscan/internal/queue"
	"github.com/bcem/spendscan/internal/scheduler"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load .env if present (local development)
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	slog.Info("starting SpendScan ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"llm_provider", cfg.LLM.Provider,
		"scan_queue", cfg.ScanQueue,
		"cron_interval", cfg.CronInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Backing services and pipeline ---
	a, err := app.Build(ctx, cfg)
	if err != nil {
		a.Close()
		slog.Error("failed to initialise ingestion pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	orch := a.Orchestrator
	publisher := queue.NewPublisher(a.Redis, cfg.ScanQueue)

	var wg sync.WaitGroup

	// --- Queue consumer: async scans ---
	consumer := queue.NewConsumer(a.Redis, cfg.ScanQueue)
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx, func(ctx context.Context, job queue.ScanJob) error {
			res, err := orch.Scan(ctx, ingest.ScanRequest{
				UserID:       job.UserID,
				DaysBack:     job.DaysBack,
				VendorIDs:    job.VendorIDs,
				ForceReparse: job.ForceReparse,
				MaxResults:   job.MaxResults,
			})
			if err != nil {
				return err
			}
			slog.Info("queued scan complete",
				"job_id", job.ID,
				"user", job.UserID,
				"success", res.Success,
				"failed", res.Failed,
				"skipped", res.Skipped,
			)
			return nil
		})
	}()

	// --- Periodic resync ---
	sched := scheduler.New(orch, cfg.CronInterval, cfg.CronDaysBack)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	// --- HTTP API ---
	srv := api.New(api.Config{
		Scanner:    orch,
		Jobs:       publisher,
		Reports:    aggregate.NewService(a.Invoices),
		Cron:       sched,
		CronSecret: cfg.CronSecret,
		Ingest:     app.IngestConfig(cfg),
		Checks: map[string]api.HealthCheck{
			"redis":    publisher.Ping,
			"postgres": a.Pool.Ping,
		},
	})

	ready, err := api.Serve(ctx, cfg.Port, srv.Routes())
	if err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	<-ctx.Done()
	slog.Info("received shutdown signal")
	wg.Wait()

	slog.Info("ingestion service stopped",
		"breaker_state", a.Connector.BreakerState(),
	)
}
