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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingFrequency classifies how often a charge recurs. The empty value
// means unknown and is stored as NULL.
type BillingFrequency string

const (
	FrequencyMonthly BillingFrequency = "monthly"
	FrequencyAnnual  BillingFrequency = "annual"
	FrequencyUsage   BillingFrequency = "usage"
	FrequencyOneTime BillingFrequency = "one_time"
)

// ParseBillingFrequency returns the frequency for s, or "" when s is not a
// known value.
func ParseBillingFrequency(s string) BillingFrequency {
	switch f := BillingFrequency(s); f {
	case FrequencyMonthly, FrequencyAnnual, FrequencyUsage, FrequencyOneTime:
		return f
	}
	return ""
}

// MinConfidence is the threshold below which a parsed record is treated as
// "not an invoice".
const MinConfidence = 0.5

// ExtractedAmountSet is the output of regex pre-extraction.
type ExtractedAmountSet struct {
	All     []decimal.Decimal // distinct, descending
	Primary *decimal.Decimal  // always a member of All when set
}

// ParsedInvoice is the structured record produced by the field extractor.
type ParsedInvoice struct {
	VendorName         string
	Amount             *decimal.Decimal
	Currency           string
	InvoiceDate        string // YYYY-MM-DD when the model follows instructions
	BillingPeriodStart *string
	BillingPeriodEnd   *string
	BillingFrequency   BillingFrequency
	InvoiceNumber      *string
	Description        *string
	ConfidenceScore    float64
	ExtractedAmounts   []string
}

// HasAmount reports whether the record carries a chargeable amount.
func (p *ParsedInvoice) HasAmount() bool {
	return p.Amount != nil && p.Amount.IsPositive()
}

// Invoice is a persisted billing event, unique per (UserID, SourceMessageID).
type Invoice struct {
	ID                 string
	UserID             string
	VendorID           *string
	SourceMessageID    string
	Amount             decimal.Decimal
	Currency           string
	InvoiceDate        time.Time
	BillingPeriodStart *time.Time
	BillingPeriodEnd   *time.Time
	BillingFrequency   BillingFrequency
	InvoiceNumber      *string
	RawSnippet         string
	EmailSubject       string
	EmailFrom          string
	EmailDate          string
	ExtractedAmounts   []string
	ConfidenceScore    float64
	Reviewed           bool
	CreatedAt          time.Time
}

// ExistingInvoice is the dedup view of a stored invoice.
type ExistingInvoice struct {
	ID              string
	SourceMessageID string
	VendorID        *string
}

// InvoiceView is an invoice joined with its vendor, as read by the
// aggregation layer. Vendor fields are empty when VendorID is nil.
type InvoiceView struct {
	Invoice
	VendorName     string
	VendorSlug     string
	VendorCategory Category
}

// RunResult summarises an ingestion run.
type RunResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Add accumulates other into r.
func (r *RunResult) Add(other RunResult) {
	r.Success += other.Success
	r.Failed += other.Failed
	r.Skipped += other.Skipped
}
