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
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bcem/spendscan/internal/models"
)

var testNow = time.Date(2025, 6, 18, 15, 0, 0, 0, time.UTC)

func noon(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func row(vendorID, name string, cat models.Category, amount string, date time.Time) models.InvoiceView {
	v := models.InvoiceView{
		Invoice: models.Invoice{
			ID:          vendorID + "-" + date.Format("20060102"),
			Amount:      decimal.RequireFromString(amount),
			Currency:    "USD",
			InvoiceDate: date,
		},
		VendorName:     name,
		VendorCategory: cat,
	}
	if vendorID != "" {
		id := vendorID
		v.VendorID = &id
	}
	return v
}

func TestRange(t *testing.T) {
	tests := []struct {
		name     string
		wantFrom time.Time
		wantTo   time.Time
	}{
		{"", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{RangeLast, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{Range3Months, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{Range12Months, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{RangeAll, time.Time{}, time.Time{}},
		{RangeCurrentYear, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{RangeLastYear, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Range(tt.name, testNow)
			if err != nil {
				t.Fatalf("Range: %v", err)
			}
			if !p.From.Equal(tt.wantFrom) || !p.To.Equal(tt.wantTo) {
				t.Errorf("got [%v, %v), want [%v, %v)", p.From, p.To, tt.wantFrom, tt.wantTo)
			}
		})
	}

	if _, err := Range("fortnight", testNow); !errors.Is(err, ErrUnknownRange) {
		t.Errorf("err = %v, want ErrUnknownRange", err)
	}
}

func TestRange_UsesUTCMonth(t *testing.T) {
	// 23:30 on May 31 in New York is already June 1 in UTC.
	ny := time.FixedZone("EDT", -4*3600)
	now := time.Date(2025, 5, 31, 23, 30, 0, 0, ny)
	p, _ := Range(RangeCurrent, now)
	if p.From.Month() != time.June {
		t.Errorf("current month starts %v, want June (UTC)", p.From)
	}
}

func TestMonthKey_NoonAnchoredStaysInMonth(t *testing.T) {
	d := noon(2025, 3, 1)
	if got := MonthKey(d); got != "2025-03" {
		t.Errorf("MonthKey = %s, want 2025-03", got)
	}
	west := d.In(time.FixedZone("PST", -8*3600))
	if got := MonthKey(west); got != "2025-03" {
		t.Errorf("MonthKey(west) = %s, want 2025-03", got)
	}
}

func TestSummarize(t *testing.T) {
	rows := []models.InvoiceView{
		row("aws", "AWS", models.CategoryCloud, "100.00", noon(2025, 6, 2)),
		row("aws", "AWS", models.CategoryCloud, "90.00", noon(2025, 5, 2)),
		row("aws", "AWS", models.CategoryCloud, "80.00", noon(2025, 1, 2)),
		row("gh", "GitHub", models.CategoryCICD, "21.00", noon(2025, 6, 5)),
		row("amzn", "Amazon", models.CategoryOther, "500.00", noon(2025, 6, 3)),
		row("", "", "", "75.00", noon(2025, 6, 4)),
	}
	p, _ := Range(RangeCurrent, testNow)
	d := Summarize(rows, p, testNow)

	if got := d.Total.StringFixed(2); got != "121.00" {
		t.Errorf("total = %s, want 121.00", got)
	}
	if got := d.Previous.StringFixed(2); got != "90.00" {
		t.Errorf("previous = %s, want 90.00", got)
	}
	if d.ServiceCount != 2 || d.InvoiceCount != 2 {
		t.Errorf("services = %d invoices = %d, want 2/2", d.ServiceCount, d.InvoiceCount)
	}
	if d.Services[0].VendorID != "aws" {
		t.Fatalf("first service = %s, want aws (highest total)", d.Services[0].VendorID)
	}

	aws := d.Services[0]
	if aws.CurrentMonth.StringFixed(2) != "100.00" || aws.PreviousMonth.StringFixed(2) != "90.00" {
		t.Errorf("aws current/previous = %s/%s", aws.CurrentMonth, aws.PreviousMonth)
	}
	// Only June is inside the range.
	if len(d.Monthly) != 1 || d.Monthly[0].Month != "2025-06" || d.Monthly[0].Total.StringFixed(2) != "121.00" {
		t.Errorf("monthly = %+v", d.Monthly)
	}

	// History covers Jan..Jun 2025, oldest first.
	want := []string{"80.00", "0.00", "0.00", "0.00", "90.00", "100.00"}
	for i, w := range want {
		if got := aws.History[i].StringFixed(2); got != w {
			t.Errorf("history[%d] = %s, want %s", i, got, w)
		}
	}
}

func TestMonthlyTotals(t *testing.T) {
	rows := []models.InvoiceView{
		row("aws", "AWS", models.CategoryCloud, "10.00", noon(2025, 3, 31)),
		row("gh", "GitHub", models.CategoryCICD, "5.50", noon(2025, 3, 1)),
		row("aws", "AWS", models.CategoryCloud, "7.25", noon(2025, 2, 28)),
		row("amzn", "Amazon", models.CategoryOther, "99.00", noon(2025, 3, 2)),
	}
	got := MonthlyTotals(rows)
	if len(got) != 2 {
		t.Fatalf("months = %v", got)
	}
	if got[0].Month != "2025-02" || got[0].Total.StringFixed(2) != "7.25" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Month != "2025-03" || got[1].Total.StringFixed(2) != "15.50" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestRenewals(t *testing.T) {
	periodEnd := noon(2025, 7, 10)
	annual := row("fig", "Figma", models.CategoryDesign, "144.00", noon(2024, 8, 1))
	annual.BillingFrequency = models.FrequencyAnnual
	old := row("vercel", "Vercel", models.CategoryCloud, "20.00", noon(2025, 1, 25))
	withEnd := row("gh", "GitHub", models.CategoryCICD, "21.00", noon(2025, 6, 10))
	withEnd.BillingPeriodEnd = &periodEnd
	farAnnual := row("jb", "JetBrains", models.CategoryDevTools, "249.00", noon(2025, 2, 1))
	farAnnual.BillingFrequency = models.FrequencyAnnual

	rows := []models.InvoiceView{
		annual,
		old,
		row("vercel", "Vercel", models.CategoryCloud, "20.00", noon(2024, 12, 25)),
		withEnd,
		farAnnual,
		row("amzn", "Amazon", models.CategoryOther, "50.00", noon(2025, 6, 1)),
	}

	got := Renewals(rows, testNow, RenewalHorizonDays)
	if len(got) != 3 {
		t.Fatalf("renewals = %+v, want 3", got)
	}

	// Vercel's latest is Jan 25; monthly steps roll it to Jun 25.
	if got[0].VendorID != "vercel" || !got[0].RenewalDate.Equal(noon(2025, 6, 25)) || got[0].DaysUntil != 7 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].VendorID != "gh" || !got[1].RenewalDate.Equal(periodEnd) {
		t.Errorf("second = %+v", got[1])
	}
	if got[2].VendorID != "fig" || !got[2].RenewalDate.Equal(noon(2025, 8, 1)) {
		t.Errorf("third = %+v", got[2])
	}
	for _, r := range got {
		if r.VendorID == "jb" || r.VendorID == "amzn" {
			t.Errorf("unexpected renewal %s", r.VendorID)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	num := "INV-7"
	r1 := row("aws", "AWS", models.CategoryCloud, "142.3", noon(2025, 3, 15))
	r1.InvoiceNumber = &num
	r1.BillingFrequency = models.FrequencyMonthly
	r2 := row("", "", "", "9.99", noon(2025, 3, 16))

	var buf bytes.Buffer
	if err := WriteCSV(&buf, []models.InvoiceView{r1, r2}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	want := strings.Join([]string{
		"Date,Vendor,Category,Amount,Currency,Invoice Number,Billing Frequency",
		"2025-03-15,AWS,Cloud,142.30,USD,INV-7,monthly",
		"2025-03-16,Unknown,Other,9.99,USD,,",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

// --- Service ---

type mockReader struct {
	mu    sync.Mutex
	rows  []models.InvoiceView
	calls [][2]time.Time
}

func (m *mockReader) ListInRange(_ context.Context, _ string, from, to time.Time) ([]models.InvoiceView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, [2]time.Time{from, to})
	var out []models.InvoiceView
	for _, r := range m.rows {
		if (from.IsZero() || !r.InvoiceDate.Before(from)) && (to.IsZero() || r.InvoiceDate.Before(to)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestService_DashboardWidensQuery(t *testing.T) {
	store := &mockReader{rows: []models.InvoiceView{
		row("aws", "AWS", models.CategoryCloud, "100.00", noon(2025, 6, 2)),
		row("aws", "AWS", models.CategoryCloud, "90.00", noon(2025, 5, 2)),
	}}
	s := NewService(store)
	s.now = func() time.Time { return testNow }

	d, err := s.Dashboard(context.Background(), "u1", RangeCurrent)
	if err != nil {
		t.Fatal(err)
	}
	if d.Total.StringFixed(2) != "100.00" || d.Previous.StringFixed(2) != "90.00" {
		t.Errorf("total/previous = %s/%s", d.Total, d.Previous)
	}
	if len(d.Monthly) != 1 || d.Monthly[0].Month != "2025-06" {
		t.Errorf("monthly = %+v, want only the current month", d.Monthly)
	}
	from := store.calls[0][0]
	if !from.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("query from = %v, want start of history window", from)
	}

	if _, err := s.Dashboard(context.Background(), "u1", "bogus"); !errors.Is(err, ErrUnknownRange) {
		t.Errorf("err = %v, want ErrUnknownRange", err)
	}
}

func TestService_ExportDefaultsToCurrentYear(t *testing.T) {
	store := &mockReader{rows: []models.InvoiceView{
		row("aws", "AWS", models.CategoryCloud, "100.00", noon(2025, 6, 2)),
		row("aws", "AWS", models.CategoryCloud, "80.00", noon(2024, 11, 2)),
	}}
	s := NewService(store)
	s.now = func() time.Time { return testNow }

	var buf bytes.Buffer
	if err := s.Export(context.Background(), &buf, "u1", ""); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "2025-06-02,AWS") {
		t.Errorf("export = %q", buf.String())
	}
}
