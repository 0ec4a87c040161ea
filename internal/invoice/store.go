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

// Package invoice provides the Postgres-backed store for parsed invoices
// and per-user vendor tracking.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bcem/spendscan/internal/models"
)

// Store persists invoices. The (user_id, source_message_id) unique
// constraint is the authoritative duplicate guard.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an invoice store and ensures its schema. The vendors
// table must already exist.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure invoice schema: %w", err)
	}
	slog.Info("invoice store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS invoices (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			vendor_id            TEXT REFERENCES vendors(id) ON DELETE SET NULL,
			source_message_id    TEXT NOT NULL,
			amount               NUMERIC(12, 2) NOT NULL,
			currency             TEXT NOT NULL DEFAULT 'USD',
			invoice_date         TIMESTAMPTZ NOT NULL,
			billing_period_start TIMESTAMPTZ,
			billing_period_end   TIMESTAMPTZ,
			billing_frequency    TEXT,
			invoice_number       TEXT,
			raw_snippet          TEXT NOT NULL DEFAULT '',
			email_subject        TEXT NOT NULL DEFAULT '',
			email_from           TEXT NOT NULL DEFAULT '',
			email_date           TEXT NOT NULL DEFAULT '',
			extracted_amounts    TEXT[] NOT NULL DEFAULT '{}',
			confidence_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
			reviewed             BOOLEAN NOT NULL DEFAULT FALSE,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, source_message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_invoices_user_date ON invoices(user_id, invoice_date);

		CREATE TABLE IF NOT EXISTS user_vendors (
			id        TEXT PRIMARY KEY,
			user_id   TEXT NOT NULL,
			vendor_id TEXT NOT NULL REFERENCES vendors(id) ON DELETE CASCADE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			added_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, vendor_id)
		);
	`)
	return err
}

// Lookup returns the dedup view of an invoice, or nil if none exists.
func (s *Store) Lookup(ctx context.Context, userID, messageID string) (*models.ExistingInvoice, error) {
	var e models.ExistingInvoice
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_message_id, vendor_id
		FROM invoices
		WHERE user_id = $1 AND source_message_id = $2
	`, userID, messageID).Scan(&e.ID, &e.SourceMessageID, &e.VendorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert stores inv unless a record for the same message exists. It
// reports whether a row was written; a conflict is not an error.
func (s *Store) Insert(ctx context.Context, inv *models.Invoice) (bool, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO invoices (
			id, user_id, vendor_id, source_message_id, amount, currency,
			invoice_date, billing_period_start, billing_period_end,
			billing_frequency, invoice_number, raw_snippet, email_subject,
			email_from, email_date, extracted_amounts, confidence_score
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (user_id, source_message_id) DO NOTHING
	`,
		inv.ID, inv.UserID, inv.VendorID, inv.SourceMessageID, inv.Amount.StringFixed(2), inv.Currency,
		inv.InvoiceDate, inv.BillingPeriodStart, inv.BillingPeriodEnd,
		nullFrequency(inv.BillingFrequency), inv.InvoiceNumber, inv.RawSnippet, inv.EmailSubject,
		inv.EmailFrom, inv.EmailDate, inv.ExtractedAmounts, inv.ConfidenceScore,
	)
	if err != nil {
		return false, fmt.Errorf("insert invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update overwrites the parsed fields of an existing invoice. The reviewed
// flag and creation time are preserved.
func (s *Store) Update(ctx context.Context, id string, inv *models.Invoice) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE invoices SET
			vendor_id            = $2,
			amount               = $3::numeric,
			currency             = $4,
			invoice_date         = $5,
			billing_period_start = $6,
			billing_period_end   = $7,
			billing_frequency    = $8,
			invoice_number       = $9,
			raw_snippet          = $10,
			email_subject        = $11,
			email_from           = $12,
			email_date           = $13,
			extracted_amounts    = $14,
			confidence_score     = $15,
			updated_at           = NOW()
		WHERE id = $1
	`,
		id, inv.VendorID, inv.Amount.StringFixed(2), inv.Currency,
		inv.InvoiceDate, inv.BillingPeriodStart, inv.BillingPeriodEnd,
		nullFrequency(inv.BillingFrequency), inv.InvoiceNumber, inv.RawSnippet,
		inv.EmailSubject, inv.EmailFrom, inv.EmailDate, inv.ExtractedAmounts, inv.ConfidenceScore,
	)
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", id, err)
	}
	return nil
}

// LinkVendor marks the vendor as tracked by the user. Repeated calls are
// no-ops.
func (s *Store) LinkVendor(ctx context.Context, userID, vendorID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_vendors (id, user_id, vendor_id, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (user_id, vendor_id) DO NOTHING
	`, uuid.NewString(), userID, vendorID)
	return err
}

// ListVendorless returns the user's invoices that have no vendor.
func (s *Store) ListVendorless(ctx context.Context, userID string) ([]models.ExistingInvoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_message_id, vendor_id
		FROM invoices
		WHERE user_id = $1 AND vendor_id IS NULL
		ORDER BY invoice_date DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExistingInvoice
	for rows.Next() {
		var e models.ExistingInvoice
		if err := rows.Scan(&e.ID, &e.SourceMessageID, &e.VendorID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTrackedUsers returns users tracking at least one active vendor.
func (s *Store) ListTrackedUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM user_vendors WHERE is_active ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListInRange returns the user's invoices with from <= invoice_date < to,
// joined with their vendor. A zero from or to leaves that side open.
func (s *Store) ListInRange(ctx context.Context, userID string, from, to time.Time) ([]models.InvoiceView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.user_id, i.vendor_id, i.source_message_id, i.amount::text, i.currency,
		       i.invoice_date, i.billing_period_start, i.billing_period_end,
		       COALESCE(i.billing_frequency, ''), i.invoice_number, i.raw_snippet,
		       i.email_subject, i.email_from, i.email_date, i.extracted_amounts,
		       i.confidence_score, i.reviewed, i.created_at,
		       COALESCE(v.name, ''), COALESCE(v.slug, ''), COALESCE(v.category, '')
		FROM invoices i
		LEFT JOIN vendors v ON v.id = i.vendor_id
		WHERE i.user_id = $1
		  AND ($2::timestamptz IS NULL OR i.invoice_date >= $2)
		  AND ($3::timestamptz IS NULL OR i.invoice_date < $3)
		ORDER BY i.invoice_date DESC
	`, userID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.InvoiceView
	for rows.Next() {
		var (
			v         models.InvoiceView
			amount    string
			frequency string
			category  string
		)
		if err := rows.Scan(
			&v.ID, &v.UserID, &v.VendorID, &v.SourceMessageID, &amount, &v.Currency,
			&v.InvoiceDate, &v.BillingPeriodStart, &v.BillingPeriodEnd,
			&frequency, &v.InvoiceNumber, &v.RawSnippet,
			&v.EmailSubject, &v.EmailFrom, &v.EmailDate, &v.ExtractedAmounts,
			&v.ConfidenceScore, &v.Reviewed, &v.CreatedAt,
			&v.VendorName, &v.VendorSlug, &category,
		); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invoice %s amount %q: %w", v.ID, amount, err)
		}
		v.Amount = d
		v.BillingFrequency = models.ParseBillingFrequency(frequency)
		v.VendorCategory = models.Category(category)
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullFrequency(f models.BillingFrequency) *string {
	if f == "" {
		return nil
	}
	s := string(f)
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
