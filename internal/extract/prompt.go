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

	"github.com/shopspring/decimal"

	"github.com/bcem/spendscan/internal/models"
)

const promptTemplate = `Extract billing information from this email.

Return ONLY a JSON object with these fields:
{
  "vendorName": "company that charged the user",
  "amount": total amount charged as a number without currency symbols, or null,
  "currency": "3-letter code such as USD, EUR, GBP",
  "invoiceDate": "YYYY-MM-DD",
  "billingPeriodStart": "YYYY-MM-DD" or null,
  "billingPeriodEnd": "YYYY-MM-DD" or null,
  "billingFrequency": "monthly" | "annual" | "usage" | "one_time" | null,
  "invoiceNumber": "invoice or receipt number" or null,
  "description": "short description of what was charged" or null,
  "confidenceScore": number from 0 to 1
}

Rules:
- amount is the TOTAL charged, never a single line item, subtotal or tax.
- confidenceScore is how likely this email records a real completed charge.
- Newsletters, budget or usage alerts, payment reminders, failed payments and marketing are NOT invoices. Give them a confidenceScore below 0.5.
- Use null for anything the email does not state.
%s
Email Subject: %s
From: %s
Date: %s

Email Content:
%s`

// buildPrompt renders the extraction prompt. When primary is set it is
// pinned as the amount; otherwise candidates are listed and the model must
// choose among them.
func buildPrompt(email *models.EmailContent, primary *decimal.Decimal, candidates []string, limit int) string {
	var hint strings.Builder
	switch {
	case primary != nil:
		fmt.Fprintf(&hint, "- The total charged is $%s. Use exactly this amount.\n", primary.StringFixed(2))
	case len(candidates) > 0:
		fmt.Fprintf(&hint, "- Amounts found in the email: %s.\n", strings.Join(candidates, ", "))
		hint.WriteString("- The amount must be one of these. Never return a number that is not in this list.\n")
	}

	return fmt.Sprintf(promptTemplate,
		hint.String(),
		email.Subject,
		email.From,
		email.Date,
		truncate(email.Content, limit),
	)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
