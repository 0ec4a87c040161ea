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

// Package backfill runs historical ingestion across many users, one mailbox
// at a time. It backs the backfill CLI used when seeding new deployments.
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcem/spendscan/internal/ingest"
	"github.com/bcem/spendscan/internal/models"
)

// Scanner is the ingestion entry point the runner drives.
type Scanner interface {
	Scan(ctx context.Context, req ingest.ScanRequest) (models.RunResult, error)
	BackfillVendors(ctx context.Context, userID string) (models.RunResult, error)
}

// Request defines the scope of a backfill run.
type Request struct {
	Users        []string
	DaysBack     int
	VendorIDs    []string
	ForceReparse bool
	MaxResults   int
	// VendorsOnly re-resolves vendors for existing vendorless invoices
	// instead of searching the mailbox.
	VendorsOnly bool
}

// Result summarises a completed backfill run.
type Result struct {
	UserResults []UserResult
	Total       models.RunResult
	Errors      int
	Elapsed     time.Duration
}

// UserResult tracks per-user progress.
type UserResult struct {
	UserID string
	models.RunResult
	Err error
}

// Runner performs multi-user backfills.
type Runner struct {
	scanner   Scanner
	userDelay time.Duration // pause between mailboxes to avoid provider throttling
}

// NewRunner creates a backfill runner. A zero delay defaults to 500ms.
func NewRunner(scanner Scanner, userDelay time.Duration) *Runner {
	if userDelay == 0 {
		userDelay = 500 * time.Millisecond
	}
	return &Runner{scanner: scanner, userDelay: userDelay}
}

// Run backfills every user in req. A failing user is recorded and the run
// continues; cancellation stops before the next user and returns the
// partial result with ctx.Err().
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	slog.Info("starting backfill",
		"users", len(req.Users),
		"days_back", req.DaysBack,
		"vendors_only", req.VendorsOnly,
	)

	result := &Result{}
	for i, userID := range req.Users {
		if i > 0 {
			select {
			case <-ctx.Done():
				result.Elapsed = time.Since(start)
				return result, ctx.Err()
			case <-time.After(r.userDelay):
			}
		}

		ur := r.backfillUser(ctx, req, userID)
		if ur.Err != nil {
			slog.Error("backfill failed for user", "user", userID, "error", ur.Err)
			result.Errors++
		}
		result.UserResults = append(result.UserResults, ur)
		result.Total.Add(ur.RunResult)
	}

	result.Elapsed = time.Since(start)
	slog.Info("backfill complete",
		"success", result.Total.Success,
		"failed", result.Total.Failed,
		"skipped", result.Total.Skipped,
		"user_errors", result.Errors,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (r *Runner) backfillUser(ctx context.Context, req Request, userID string) UserResult {
	var (
		res models.RunResult
		err error
	)
	if req.VendorsOnly {
		res, err = r.scanner.BackfillVendors(ctx, userID)
	} else {
		res, err = r.scanner.Scan(ctx, ingest.ScanRequest{
			UserID:       userID,
			DaysBack:     req.DaysBack,
			VendorIDs:    req.VendorIDs,
			ForceReparse: req.ForceReparse,
			MaxResults:   req.MaxResults,
		})
	}
	return UserResult{UserID: userID, RunResult: res, Err: err}
}
