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

// Package ingest drives the invoice pipeline for one user: search the
// mailbox, dedup against stored invoices, extract fields, resolve the
// vendor and persist. Messages are processed in fixed-size concurrent
// batches; batch N finishes before batch N+1 starts.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/spendscan/internal/amounts"
	"github.com/bcem/spendscan/internal/models"
	"github.com/bcem/spendscan/internal/vendor"
)

// Searcher finds candidate messages.
type Searcher interface {
	Search(ctx context.Context, userID string, opts models.SearchOptions) ([]models.RawMessage, error)
}

// ContentFetcher fetches and flattens one message.
type ContentFetcher interface {
	FetchContent(ctx context.Context, userID, messageID string) (*models.EmailContent, error)
}

// FieldExtractor turns email content into a parsed invoice.
type FieldExtractor interface {
	Extract(ctx context.Context, email *models.EmailContent, set models.ExtractedAmountSet) (*models.ParsedInvoice, error)
}

// VendorResolver maps an email to a catalog vendor.
type VendorResolver interface {
	Resolve(ctx context.Context, email *models.EmailContent, parsed *models.ParsedInvoice, catalog *vendor.Catalog) (vendor.Resolution, error)
}

// CatalogLoader loads the curated vendor catalog once per run.
type CatalogLoader interface {
	LoadCatalog(ctx context.Context) (*vendor.Catalog, error)
}

// InvoiceStore is the persistence surface the orchestrator needs.
type InvoiceStore interface {
	Lookup(ctx context.Context, userID, messageID string) (*models.ExistingInvoice, error)
	Insert(ctx context.Context, inv *models.Invoice) (bool, error)
	Update(ctx context.Context, id string, inv *models.Invoice) error
	LinkVendor(ctx context.Context, userID, vendorID string) error
	ListVendorless(ctx context.Context, userID string) ([]models.ExistingInvoice, error)
	ListTrackedUsers(ctx context.Context) ([]string, error)
}

// Claimer hands out short-lived in-flight claims so overlapping runs do not
// process the same message at once.
type Claimer interface {
	Claim(ctx context.Context, userID, messageID string) (bool, error)
	Release(ctx context.Context, userID, messageID string) error
}

// Rejection reasons logged for policy rejections.
const (
	ReasonLowConfidence = "low_confidence"
	ReasonNoAmount      = "no_amount"
	ReasonInvalidDate   = "invalid_date"
)

// Config tunes the orchestrator.
type Config struct {
	BatchSize       int // messages processed concurrently
	DriftDays       int // max parsed-vs-header date drift
	DefaultDaysBack int
	MaxResultsCap   int
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:       5,
		DriftDays:       DefaultDriftDays,
		DefaultDaysBack: 90,
		MaxResultsCap:   2000,
	}
}

// Deps are the orchestrator's collaborators. Claims may be nil.
type Deps struct {
	Search    Searcher
	Content   ContentFetcher
	Extractor FieldExtractor
	Resolver  VendorResolver
	Catalog   CatalogLoader
	Invoices  InvoiceStore
	Claims    Claimer
}

// ScanRequest is a user-triggered or scheduled ingestion run.
type ScanRequest struct {
	UserID       string
	DaysBack     int
	StartDate    *time.Time // overrides DaysBack when set
	VendorIDs    []string
	ForceReparse bool
	MaxResults   int
}

// Orchestrator runs ingestion.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New creates an orchestrator. Zero config fields take defaults.
func New(deps Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.DriftDays <= 0 {
		cfg.DriftDays = def.DriftDays
	}
	if cfg.DefaultDaysBack <= 0 {
		cfg.DefaultDaysBack = def.DefaultDaysBack
	}
	if cfg.MaxResultsCap <= 0 {
		cfg.MaxResultsCap = def.MaxResultsCap
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// run carries per-run state shared by every message in the run.
type run struct {
	userID  string
	force   bool
	catalog *vendor.Catalog
	log     *slog.Logger
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeSuccess
	outcomeSkipped
)

// Scan searches the user's mailbox and ingests every candidate. If ctx is
// cancelled between batches the partial result is returned with ctx.Err().
func (o *Orchestrator) Scan(ctx context.Context, req ScanRequest) (models.RunResult, error) {
	if req.UserID == "" {
		return models.RunResult{}, fmt.Errorf("scan: user id is required")
	}
	req = NormalizeRequest(req, o.now(), o.cfg)

	r, err := o.newRun(ctx, req.UserID, req.ForceReparse)
	if err != nil {
		return models.RunResult{}, err
	}
	start := time.Now()

	msgs, err := o.deps.Search.Search(ctx, req.UserID, models.SearchOptions{
		DaysBack:   req.DaysBack,
		VendorIDs:  req.VendorIDs,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		return models.RunResult{}, fmt.Errorf("search mailbox: %w", err)
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	r.log.Info("scan started",
		"candidates", len(ids),
		"days_back", req.DaysBack,
		"force_reparse", req.ForceReparse,
	)

	res, err := o.runBatches(ctx, r, ids)
	r.log.Info("scan finished",
		"success", res.Success,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"duration", time.Since(start).String(),
	)
	return res, err
}

// BackfillVendors re-runs the pipeline for the user's invoices that have no
// vendor, updating the rows in place.
func (o *Orchestrator) BackfillVendors(ctx context.Context, userID string) (models.RunResult, error) {
	r, err := o.newRun(ctx, userID, false)
	if err != nil {
		return models.RunResult{}, err
	}

	rows, err := o.deps.Invoices.ListVendorless(ctx, userID)
	if err != nil {
		return models.RunResult{}, fmt.Errorf("list vendorless invoices: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.SourceMessageID)
	}

	r.log.Info("vendor backfill started", "candidates", len(ids))
	res, err := o.runBatches(ctx, r, ids)
	r.log.Info("vendor backfill finished",
		"success", res.Success,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)
	return res, err
}

// ResyncAll scans every user tracking at least one vendor, one user at a
// time. A failing user is logged and does not stop the others.
func (o *Orchestrator) ResyncAll(ctx context.Context, daysBack int) (models.RunResult, error) {
	users, err := o.deps.Invoices.ListTrackedUsers(ctx)
	if err != nil {
		return models.RunResult{}, fmt.Errorf("list tracked users: %w", err)
	}

	slog.Info("resync started", "users", len(users), "days_back", daysBack)

	var total models.RunResult
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := o.Scan(ctx, ScanRequest{UserID: u, DaysBack: daysBack})
		total.Add(res)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			slog.Error("resync user failed", "user", u, "error", err)
		}
	}

	slog.Info("resync finished",
		"users", len(users),
		"success", total.Success,
		"failed", total.Failed,
		"skipped", total.Skipped,
	)
	return total, nil
}

func (o *Orchestrator) newRun(ctx context.Context, userID string, force bool) (*run, error) {
	catalog, err := o.deps.Catalog.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vendor catalog: %w", err)
	}
	return &run{
		userID:  userID,
		force:   force,
		catalog: catalog,
		log:     slog.With("run_id", uuid.NewString(), "user", userID),
	}, nil
}

// runBatches processes ids BatchSize at a time. Cancellation is checked
// before each batch; messages already dispatched finish.
func (o *Orchestrator) runBatches(ctx context.Context, r *run, ids []string) (models.RunResult, error) {
	var res models.RunResult
	for start := 0; start < len(ids); start += o.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			r.log.Warn("run cancelled", "processed", start, "remaining", len(ids)-start)
			return res, err
		}

		batch := ids[start:min(start+o.cfg.BatchSize, len(ids))]
		outcomes := make([]outcome, len(batch))

		var g errgroup.Group
		for i, id := range batch {
			g.Go(func() error {
				outcomes[i] = o.processMessage(ctx, r, id)
				return nil
			})
		}
		_ = g.Wait()

		for _, oc := range outcomes {
			switch oc {
			case outcomeSuccess:
				res.Success++
			case outcomeSkipped:
				res.Skipped++
			default:
				res.Failed++
			}
		}
	}
	return res, nil
}

func (o *Orchestrator) processMessage(ctx context.Context, r *run, msgID string) outcome {
	log := r.log.With("message_id", msgID)

	existing, err := o.deps.Invoices.Lookup(ctx, r.userID, msgID)
	if err != nil {
		log.Warn("invoice lookup failed", "error", err)
		return outcomeFailed
	}
	if existing != nil && existing.VendorID != nil && !r.force {
		return outcomeSkipped
	}

	if o.deps.Claims != nil {
		ok, err := o.deps.Claims.Claim(ctx, r.userID, msgID)
		switch {
		case err != nil:
			log.Warn("in-flight claim unavailable, continuing", "error", err)
		case !ok:
			log.Debug("message held by another run")
			return outcomeSkipped
		default:
			defer func() {
				if err := o.deps.Claims.Release(context.WithoutCancel(ctx), r.userID, msgID); err != nil {
					log.Warn("release claim failed", "error", err)
				}
			}()
		}
	}

	email, err := o.deps.Content.FetchContent(ctx, r.userID, msgID)
	if err != nil {
		log.Warn("fetch content failed", "error", err)
		return outcomeFailed
	}
	log = log.With("subject", email.Subject, "from", email.From)

	parsed, err := o.deps.Extractor.Extract(ctx, email, amounts.Extract(email.Content))
	if err != nil {
		log.Warn("field extraction failed", "error", err)
		return outcomeFailed
	}
	if parsed == nil {
		log.Info("message rejected", "reason", ReasonLowConfidence)
		return outcomeFailed
	}

	if parsed.ConfidenceScore < models.MinConfidence {
		log.Info("message rejected", "reason", ReasonLowConfidence, "confidence", parsed.ConfidenceScore)
		return outcomeFailed
	}
	if !parsed.HasAmount() {
		log.Info("message rejected", "reason", ReasonNoAmount)
		return outcomeFailed
	}
	invoiceDate, err := ResolveInvoiceDate(parsed.InvoiceDate, email.Date, o.cfg.DriftDays)
	if err != nil {
		log.Info("message rejected", "reason", ReasonInvalidDate, "invoice_date", parsed.InvoiceDate)
		return outcomeFailed
	}

	resolution, err := o.deps.Resolver.Resolve(ctx, email, parsed, r.catalog)
	if err != nil {
		log.Warn("vendor resolution failed", "error", err)
		return outcomeFailed
	}
	if !resolution.Matched() {
		attrs := []any{"reason", resolution.Reason, "parsed_vendor", parsed.VendorName}
		if resolution.Vendor != nil {
			attrs = append(attrs, "vendor", resolution.Vendor.Slug)
		}
		log.Info("message rejected", attrs...)
		return outcomeFailed
	}
	v := resolution.Vendor

	if err := o.deps.Invoices.LinkVendor(ctx, r.userID, v.ID); err != nil {
		log.Warn("link vendor failed", "vendor", v.Slug, "error", err)
		return outcomeFailed
	}

	inv := buildInvoice(r.userID, msgID, email, parsed, v, invoiceDate)

	if existing != nil {
		if err := o.deps.Invoices.Update(ctx, existing.ID, inv); err != nil {
			log.Warn("update invoice failed", "error", err)
			return outcomeFailed
		}
		log.Info("invoice updated", "vendor", v.Slug, "amount", inv.Amount.StringFixed(2))
		return outcomeSuccess
	}

	inserted, err := o.deps.Invoices.Insert(ctx, inv)
	if err != nil {
		log.Warn("insert invoice failed", "error", err)
		return outcomeFailed
	}
	if !inserted {
		log.Debug("invoice already stored by a concurrent run")
		return outcomeSkipped
	}
	log.Info("invoice stored", "vendor", v.Slug, "amount", inv.Amount.StringFixed(2), "strategy", resolution.Strategy)
	return outcomeSuccess
}

func buildInvoice(userID, msgID string, email *models.EmailContent, parsed *models.ParsedInvoice, v *models.Vendor, date time.Time) *models.Invoice {
	vendorID := v.ID
	return &models.Invoice{
		UserID:             userID,
		VendorID:           &vendorID,
		SourceMessageID:    msgID,
		Amount:             parsed.Amount.Round(2),
		Currency:           parsed.Currency,
		InvoiceDate:        date,
		BillingPeriodStart: optionalDay(parsed.BillingPeriodStart),
		BillingPeriodEnd:   optionalDay(parsed.BillingPeriodEnd),
		BillingFrequency:   parsed.BillingFrequency,
		InvoiceNumber:      parsed.InvoiceNumber,
		RawSnippet:         email.Snippet,
		EmailSubject:       email.Subject,
		EmailFrom:          email.From,
		EmailDate:          email.Date,
		ExtractedAmounts:   parsed.ExtractedAmounts,
		ConfidenceScore:    parsed.ConfidenceScore,
	}
}

func optionalDay(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, ok := ParseDay(*s)
	if !ok {
		return nil
	}
	return &t
}

// NormalizeRequest applies request defaults and bounds. A StartDate that
// is not in the past is ignored.
func NormalizeRequest(req ScanRequest, now time.Time, cfg Config) ScanRequest {
	if req.StartDate != nil && !req.StartDate.IsZero() {
		if days := int(math.Ceil(now.Sub(*req.StartDate).Hours() / 24)); days > 0 {
			req.DaysBack = min(days, 365)
		}
	}
	if req.DaysBack <= 0 {
		req.DaysBack = cfg.DefaultDaysBack
		if req.DaysBack <= 0 {
			req.DaysBack = 90
		}
	}

	if req.MaxResults <= 0 {
		req.MaxResults = 800
		if req.DaysBack <= 31 {
			req.MaxResults = 500
		}
	}
	maxCap := cfg.MaxResultsCap
	if maxCap <= 0 {
		maxCap = 2000
	}
	req.MaxResults = max(1, min(req.MaxResults, maxCap))
	return req
}
