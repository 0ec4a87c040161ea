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

// SpendScan Historical Backfill Command
//
// Standalone CLI that ingests invoices from connected Gmail mailboxes over a
// configurable lookback window. Intended for seeding new deployments and
// for re-running extraction after catalog changes.
//
// Usage:
//
//	go run ./cmd/backfill/ --user <id>[,<id>...] [--days 365] [--vendors v1,v2] [--force]
//	go run ./cmd/backfill/ --all-users [--vendor-backfill]
//
// Every flag can also be set as SPENDSCAN_<FLAG>, e.g. SPENDSCAN_DAYS=180.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/bcem/spendscan/internal/app"
	"github.com/bcem/spendscan/internal/backfill"
	"github.com/bcem/spendscan/internal/config"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	// --- CLI Flags ---
	fs := ff.NewFlagSet("spendscan-backfill")
	var (
		usersFlag      = fs.StringLong("user", "", "Comma-separated user IDs to backfill")
		allUsers       = fs.BoolLong("all-users", "Backfill every user with a connected mailbox")
		daysBack       = fs.IntLong("days", 365, "Lookback window in days (1-365)")
		vendorsFlag    = fs.StringLong("vendors", "", "Comma-separated vendor IDs to restrict the search to")
		force          = fs.BoolLong("force", "Re-extract messages that already have an invoice")
		maxResults     = fs.IntLong("max-results", 0, "Per-user message cap (0 = derived from --days)")
		vendorBackfill = fs.BoolLong("vendor-backfill", "Only re-resolve vendors for existing vendorless invoices")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SPENDSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	users := splitList(*usersFlag)
	if len(users) == 0 && !*allUsers {
		fmt.Fprintf(os.Stderr, "Error: --user or --all-users is required\n\n%s\n", ffhelp.Flags(fs))
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		a.Close()
		slog.Error("failed to initialise ingestion pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// --- Resolve users ---
	if *allUsers {
		tracked, err := a.Tokens.ListUserIDs(ctx)
		if err != nil {
			slog.Error("failed to list connected mailboxes", "error", err)
			os.Exit(1)
		}
		users = tracked
	}
	if len(users) == 0 {
		slog.Error("no users to backfill")
		os.Exit(1)
	}
	slog.Info("resolved users for backfill", "count", len(users))

	// --- Run Backfill ---
	runner := backfill.NewRunner(a.Orchestrator, 0)
	result, err := runner.Run(ctx, backfill.Request{
		Users:        users,
		DaysBack:     *daysBack,
		VendorIDs:    splitList(*vendorsFlag),
		ForceReparse: *force,
		MaxResults:   *maxResults,
		VendorsOnly:  *vendorBackfill,
	})
	if err != nil {
		slog.Error("backfill interrupted", "error", err)
	}

	// --- Summary ---
	for _, ur := range result.UserResults {
		attrs := []any{
			"user", ur.UserID,
			"success", ur.Success,
			"failed", ur.Failed,
			"skipped", ur.Skipped,
		}
		if ur.Err != nil {
			attrs = append(attrs, "error", ur.Err)
		}
		slog.Info("user result", attrs...)
	}

	if err != nil || result.Errors > 0 {
		a.Close()
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
