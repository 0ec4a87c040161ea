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

package extract

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/bcem/spendscan/internal/models"
)

// llmInvoice mirrors the JSON object the model is asked for.
type llmInvoice struct {
	VendorName         string     `json:"vendorName"`
	Amount             flexNumber `json:"amount"`
	Currency           string     `json:"currency"`
	InvoiceDate        string     `json:"invoiceDate"`
	BillingPeriodStart *string    `json:"billingPeriodStart"`
	BillingPeriodEnd   *string    `json:"billingPeriodEnd"`
	BillingFrequency   *string    `json:"billingFrequency"`
	InvoiceNumber      *string    `json:"invoiceNumber"`
	Description        *string    `json:"description"`
	ConfidenceScore    flexNumber `json:"confidenceScore"`
}

// flexNumber accepts a JSON number, a numeric string ("$1,234.50") or null.
// Anything unparseable decodes as absent.
type flexNumber struct {
	value *decimal.Decimal
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	f.value = &v
	return nil
}

// parseCompletion decodes a model response into a ParsedInvoice. Markdown
// fences and any prose around the outermost JSON object are ignored.
func parseCompletion(raw string) (*models.ParsedInvoice, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}

	var out llmInvoice
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decoding completion: %w", err)
	}

	parsed := &models.ParsedInvoice{
		VendorName:         strings.TrimSpace(out.VendorName),
		Currency:           normalizeCurrency(out.Currency),
		InvoiceDate:        strings.TrimSpace(out.InvoiceDate),
		BillingPeriodStart: nonEmpty(out.BillingPeriodStart),
		BillingPeriodEnd:   nonEmpty(out.BillingPeriodEnd),
		InvoiceNumber:      nonEmpty(out.InvoiceNumber),
		Description:        nonEmpty(out.Description),
	}

	if out.BillingFrequency != nil {
		parsed.BillingFrequency = models.ParseBillingFrequency(strings.ToLower(strings.TrimSpace(*out.BillingFrequency)))
	}

	if out.Amount.value != nil && out.Amount.value.IsPositive() {
		v := out.Amount.value.Round(2)
		parsed.Amount = &v
	}

	if out.ConfidenceScore.value != nil {
		c, _ := out.ConfidenceScore.value.Float64()
		parsed.ConfidenceScore = clamp01(c)
	}

	return parsed, nil
}

func normalizeCurrency(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return "USD"
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "USD"
		}
	}
	return s
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
