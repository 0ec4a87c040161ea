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

// Package aggregate is the read side of the invoice store: spend per
// vendor and per month, upcoming renewals and CSV export.
//
// Every calendar computation happens in UTC. Invoice dates are stored at
// noon UTC, so a UTC month boundary never moves an invoice into the
// neighbouring month.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bcem/spendscan/internal/models"
)

// ErrUnknownRange is returned for an unrecognised range name.
var ErrUnknownRange = errors.New("unknown range")

// Range names.
const (
	RangeCurrent     = "current"
	RangeLast        = "last"
	Range3Months     = "3m"
	Range6Months     = "6m"
	Range12Months    = "12m"
	RangeAll         = "all"
	RangeCurrentYear = "current-year"
	RangeLastYear    = "last-year"
)

// HistoryMonths is the length of each vendor's spend history.
const HistoryMonths = 6

// Period is the half-open interval [From, To). A zero bound is open.
type Period struct {
	Name string
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !t.Before(p.To) {
		return false
	}
	return true
}

// Range resolves a preset name relative to now. An empty name is
// RangeCurrent.
func Range(name string, now time.Time) (Period, error) {
	if name == "" {
		name = RangeCurrent
	}
	month := monthStart(now)
	year := time.Date(now.UTC().Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	next := month.AddDate(0, 1, 0)

	p := Period{Name: name}
	switch name {
	case RangeCurrent:
		p.From, p.To = month, next
	case RangeLast:
		p.From, p.To = month.AddDate(0, -1, 0), month
	case Range3Months:
		p.From, p.To = month.AddDate(0, -2, 0), next
	case Range6Months:
		p.From, p.To = month.AddDate(0, -5, 0), next
	case Range12Months:
		p.From, p.To = month.AddDate(0, -11, 0), next
	case RangeAll:
	case RangeCurrentYear:
		p.From, p.To = year, year.AddDate(1, 0, 0)
	case RangeLastYear:
		p.From, p.To = year.AddDate(-1, 0, 0), year
	default:
		return Period{}, fmt.Errorf("%w: %q", ErrUnknownRange, name)
	}
	return p, nil
}

// MonthKey buckets t into its UTC calendar month, "YYYY-MM".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func monthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// countable reports whether a row belongs in spend views.
func countable(r models.InvoiceView) bool {
	return r.VendorID != nil && r.VendorCategory != models.CategoryOther
}

// VendorSpend is one vendor's line on the dashboard.
type VendorSpend struct {
	VendorID      string            `json:"vendor_id"`
	VendorName    string            `json:"vendor_name"`
	VendorSlug    string            `json:"vendor_slug"`
	Category      models.Category   `json:"category"`
	Currency      string            `json:"currency"`
	CurrentMonth  decimal.Decimal   `json:"current_month"`
	PreviousMonth decimal.Decimal   `json:"previous_month"`
	Total         decimal.Decimal   `json:"total"`
	InvoiceCount  int               `json:"invoice_count"`
	History       []decimal.Decimal `json:"history"` // oldest month first
}

// Dashboard is the spend summary for one user and range.
type Dashboard struct {
	Range        string          `json:"range"`
	Total        decimal.Decimal `json:"total"`
	Previous     decimal.Decimal `json:"previous"`
	ServiceCount int             `json:"service_count"`
	InvoiceCount int             `json:"invoice_count"`
	Services     []VendorSpend   `json:"services"`
	Monthly      []MonthTotal    `json:"monthly"` // in-range spend per UTC month
}

// Summarize builds the dashboard. Totals, counts and the monthly series
// cover rows inside p; current, previous and history columns are calendar
// months relative to now and may use rows outside p. Rows without a vendor
// or in the Other category are ignored.
func Summarize(rows []models.InvoiceView, p Period, now time.Time) Dashboard {
	thisMonth := monthStart(now)
	prevMonth := thisMonth.AddDate(0, -1, 0)

	histIndex := make(map[string]int, HistoryMonths)
	for i := 0; i < HistoryMonths; i++ {
		histIndex[MonthKey(thisMonth.AddDate(0, i-HistoryMonths+1, 0))] = i
	}

	d := Dashboard{Range: p.Name, Total: decimal.Zero, Previous: decimal.Zero}
	byVendor := make(map[string]*VendorSpend)
	var inRange []models.InvoiceView

	for _, r := range rows {
		if !countable(r) {
			continue
		}
		id := *r.VendorID
		vs, ok := byVendor[id]
		if !ok {
			vs = &VendorSpend{
				VendorID:      id,
				VendorName:    r.VendorName,
				VendorSlug:    r.VendorSlug,
				Category:      r.VendorCategory,
				Currency:      r.Currency,
				CurrentMonth:  decimal.Zero,
				PreviousMonth: decimal.Zero,
				Total:         decimal.Zero,
				History:       make([]decimal.Decimal, HistoryMonths),
			}
			for i := range vs.History {
				vs.History[i] = decimal.Zero
			}
			byVendor[id] = vs
		}

		key := MonthKey(r.InvoiceDate)
		if i, ok := histIndex[key]; ok {
			vs.History[i] = vs.History[i].Add(r.Amount)
		}
		switch key {
		case MonthKey(thisMonth):
			vs.CurrentMonth = vs.CurrentMonth.Add(r.Amount)
		case MonthKey(prevMonth):
			vs.PreviousMonth = vs.PreviousMonth.Add(r.Amount)
			d.Previous = d.Previous.Add(r.Amount)
		}

		if p.Contains(r.InvoiceDate) {
			vs.Total = vs.Total.Add(r.Amount)
			vs.InvoiceCount++
			d.Total = d.Total.Add(r.Amount)
			d.InvoiceCount++
			inRange = append(inRange, r)
		}
	}
	d.Monthly = MonthlyTotals(inRange)

	for _, vs := range byVendor {
		if vs.InvoiceCount == 0 {
			continue
		}
		d.Services = append(d.Services, *vs)
	}
	sort.Slice(d.Services, func(i, j int) bool {
		a, b := d.Services[i], d.Services[j]
		if c := a.Total.Cmp(b.Total); c != 0 {
			return c > 0
		}
		return a.VendorName < b.VendorName
	})
	d.ServiceCount = len(d.Services)
	return d
}

// MonthTotal is the spend in one UTC calendar month.
type MonthTotal struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
}

// MonthlyTotals buckets countable rows by UTC month, oldest first.
func MonthlyTotals(rows []models.InvoiceView) []MonthTotal {
	sums := make(map[string]decimal.Decimal)
	for _, r := range rows {
		if !countable(r) {
			continue
		}
		k := MonthKey(r.InvoiceDate)
		sums[k] = sums[k].Add(r.Amount)
	}

	out := make([]MonthTotal, 0, len(sums))
	for k, v := range sums {
		out = append(out, MonthTotal{Month: k, Total: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// Renewal is a projected upcoming charge.
type Renewal struct {
	VendorID         string                  `json:"vendor_id"`
	VendorName       string                  `json:"vendor_name"`
	Amount           decimal.Decimal         `json:"amount"`
	Currency         string                  `json:"currency"`
	BillingFrequency models.BillingFrequency `json:"billing_frequency"`
	RenewalDate      time.Time               `json:"renewal_date"`
	DaysUntil        int                     `json:"days_until"`
}

// Renewals projects the next charge for each vendor from its latest
// invoice and keeps those due within horizonDays.
func Renewals(rows []models.InvoiceView, now time.Time, horizonDays int) []Renewal {
	latest := make(map[string]models.InvoiceView)
	for _, r := range rows {
		if !countable(r) {
			continue
		}
		id := *r.VendorID
		if cur, ok := latest[id]; !ok || r.InvoiceDate.After(cur.InvoiceDate) {
			latest[id] = r
		}
	}

	now = now.UTC()
	var out []Renewal
	for id, r := range latest {
		freq := r.BillingFrequency
		if freq == "" {
			freq = models.FrequencyMonthly
		}
		step := func(t time.Time) time.Time {
			if freq == models.FrequencyAnnual {
				return t.AddDate(1, 0, 0)
			}
			return t.AddDate(0, 1, 0)
		}

		next := step(r.InvoiceDate.UTC())
		if r.BillingPeriodEnd != nil {
			next = r.BillingPeriodEnd.UTC()
		}
		for next.Before(now) {
			next = step(next)
		}

		days := int(math.Ceil(next.Sub(now).Hours() / 24))
		if days > horizonDays {
			continue
		}
		out = append(out, Renewal{
			VendorID:         id,
			VendorName:       r.VendorName,
			Amount:           r.Amount,
			Currency:         r.Currency,
			BillingFrequency: freq,
			RenewalDate:      next,
			DaysUntil:        days,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DaysUntil != out[j].DaysUntil {
			return out[i].DaysUntil < out[j].DaysUntil
		}
		return out[i].VendorName < out[j].VendorName
	})
	return out
}
