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
	"encoding/csv"
	"fmt"
	"io"

	"github.com/bcem/spendscan/internal/models"
)

// CSVHeader is the export column order.
var CSVHeader = []string{"Date", "Vendor", "Category", "Amount", "Currency", "Invoice Number", "Billing Frequency"}

// WriteCSV writes rows in the order given. Unlike the dashboard, the export
// keeps vendorless and Other rows so the file is a full audit of what was
// stored.
func WriteCSV(w io.Writer, rows []models.InvoiceView) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range rows {
		name := r.VendorName
		if name == "" {
			name = "Unknown"
		}
		category := string(r.VendorCategory)
		if category == "" {
			category = string(models.CategoryOther)
		}
		number := ""
		if r.InvoiceNumber != nil {
			number = *r.InvoiceNumber
		}

		record := []string{
			r.InvoiceDate.UTC().Format("2006-01-02"),
			name,
			category,
			r.Amount.StringFixed(2),
			r.Currency,
			number,
			string(r.BillingFrequency),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
