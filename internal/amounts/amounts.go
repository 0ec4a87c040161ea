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

// Package amounts harvests currency amounts from email text with regular
// expressions. It runs before any LLM call and never touches the network.
//
// Two tiers of patterns are used:
//   - primary patterns are anchored on charge phrasing ("total charged",
//     "you paid", "amount due") and are tried in priority order; the first
//     hit becomes the primary amount
//   - general patterns collect every $-prefixed or USD-suffixed number
package amounts

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bcem/spendscan/internal/models"
)

// Ceiling is the exclusive upper bound for a plausible amount. Anything at
// or above it is almost always a tracking or account number.
var Ceiling = decimal.NewFromInt(1_000_000)

const (
	number   = `(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`
	optCur   = `(?:(?:US)?\$|USD)?\s*`
	reqCur   = `(?:(?:US)?\$|USD)\s*`
	sep      = `[:\s]*`
	caseFold = `(?i)`
)

// primaryPatterns are scanned in order; earlier patterns win. Phrases are
// word-anchored so "Subtotal" never reads as "total".
var primaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(caseFold + `\btotal\s+charged` + sep + optCur + number),
	regexp.MustCompile(caseFold + `\bamount\s+charged` + sep + optCur + number),
	regexp.MustCompile(caseFold + `\bpayment\s+amount(?:\s+of)?` + sep + optCur + number),
	regexp.MustCompile(caseFold + `\bpayment\s+of\s+` + optCur + number),
	regexp.MustCompile(caseFold + `\byou\s+paid` + sep + optCur + number),
	regexp.MustCompile(caseFold + `\bamount\s+paid` + sep + optCur + number),
	regexp.MustCompile(caseFold + `\b(?:total\s+)?amount\s+due` + sep + optCur + number),
	regexp.MustCompile(caseFold + `\b(?:grand\s+)?total` + sep + reqCur + number),
	regexp.MustCompile(caseFold + reqCur + number + `\s+(?:USD\s+)?(?:was\s+|has\s+been\s+)?(?:successfully\s+)?charged`),
}

var generalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:US)?\$\s?` + number),
	regexp.MustCompile(number + `\s?USD\b`),
}

// Extract scans text and returns every plausible amount plus, when a
// high-confidence phrase matched, the primary amount.
func Extract(text string) models.ExtractedAmountSet {
	var set models.ExtractedAmountSet
	seen := make(map[string]bool)

	add := func(v decimal.Decimal) {
		key := v.StringFixed(2)
		if seen[key] {
			return
		}
		seen[key] = true
		set.All = append(set.All, v)
	}

	for _, re := range generalPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, ok := parse(m[1]); ok {
				add(v)
			}
		}
	}

	for _, re := range primaryPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, ok := parse(m[1])
		if !ok {
			continue
		}
		add(v)
		set.Primary = &v
		break
	}

	sort.Slice(set.All, func(i, j int) bool {
		return set.All[i].GreaterThan(set.All[j])
	})

	return set
}

// Display renders the set for audit storage, e.g. ["$142.33", "$12.00"].
func Display(set models.ExtractedAmountSet) []string {
	out := make([]string, 0, len(set.All))
	for _, v := range set.All {
		out = append(out, "$"+v.StringFixed(2))
	}
	return out
}

// Largest returns the biggest amount strictly below limit.
func Largest(set models.ExtractedAmountSet, limit decimal.Decimal) (decimal.Decimal, bool) {
	for _, v := range set.All {
		if v.LessThan(limit) {
			return v, true
		}
	}
	return decimal.Zero, false
}

func parse(raw string) (decimal.Decimal, bool) {
	v, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	v = v.Round(2)
	if !v.IsPositive() || v.GreaterThanOrEqual(Ceiling) {
		return decimal.Zero, false
	}
	return v, true
}
