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

package aggregate

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bcem/spendscan/internal/models"
)

// RenewalHorizonDays is how far ahead renewals are reported.
const RenewalHorizonDays = 90

// InvoiceReader lists a user's invoices with invoice_date in [from, to).
type InvoiceReader interface {
	ListInRange(ctx context.Context, userID string, from, to time.Time) ([]models.InvoiceView, error)
}

// Service answers dashboard, renewal and export queries.
type Service struct {
	store InvoiceReader
	now   func() time.Time
}

// NewService creates a read service over store.
func NewService(store InvoiceReader) *Service {
	return &Service{store: store, now: time.Now}
}

// Dashboard summarises spend for the named range.
func (s *Service) Dashboard(ctx context.Context, userID, rangeName string) (*Dashboard, error) {
	now := s.now()
	p, err := Range(rangeName, now)
	if err != nil {
		return nil, err
	}

	// Widen the query so the month columns and history are complete
	// whatever the range.
	from, to := p.From, p.To
	histStart := monthStart(now).AddDate(0, 1-HistoryMonths, 0)
	nextMonth := monthStart(now).AddDate(0, 1, 0)
	if !from.IsZero() && histStart.Before(from) {
		from = histStart
	}
	if !to.IsZero() && nextMonth.After(to) {
		to = nextMonth
	}

	rows, err := s.store.ListInRange(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	d := Summarize(rows, p, now)
	return &d, nil
}

// Renewals lists renewals due within RenewalHorizonDays.
func (s *Service) Renewals(ctx context.Context, userID string) ([]Renewal, error) {
	rows, err := s.store.ListInRange(ctx, userID, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return Renewals(rows, s.now(), RenewalHorizonDays), nil
}

// Export writes the invoices in the named range as CSV. An empty range
// name exports the current year.
func (s *Service) Export(ctx context.Context, w io.Writer, userID, rangeName string) error {
	if rangeName == "" {
		rangeName = RangeCurrentYear
	}
	p, err := Range(rangeName, s.now())
	if err != nil {
		return err
	}
	rows, err := s.store.ListInRange(ctx, userID, p.From, p.To)
	if err != nil {
		return fmt.Errorf("list invoices: %w", err)
	}
	return WriteCSV(w, rows)
}
