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

package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/spendscan/internal/models"
	"github.com/bcem/spendscan/internal/vendor"
)

const (
	broadKeywords = `(invoice OR receipt OR "payment received" OR "payment confirmation" OR "payment amount" OR "your payment" OR "successfully charged" OR "billing statement" OR "tax invoice" OR "order confirmation")`
	broadExclude  = `-"budget alert" -"budget reached" -"usage alert" -reminder -"payment due" -"payment failed" -in:spam -in:trash`
	vendorTerms   = `(receipt OR invoice OR billing OR payment OR charged OR statement OR renewal OR renewed OR subscription OR "plan")`
	vendorExclude = `-"budget alert" -"usage alert" -reminder -in:spam -in:trash`
)

// VendorSource supplies the vendors whose sender patterns are searched.
type VendorSource interface {
	ListBySlugs(ctx context.Context, slugs []string) ([]models.Vendor, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Vendor, error)
}

// SearchConfig bounds the search.
type SearchConfig struct {
	BroadCap  int // results reserved for the broad query
	HardCap   int // absolute ceiling on results
	ChunkSize int // from: clauses per vendor query
	PageSize  int // provider page size
}

// DefaultSearchConfig returns production limits.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{BroadCap: 400, HardCap: 2000, ChunkSize: 20, PageSize: 500}
}

// Searcher finds candidate billing messages.
type Searcher struct {
	opener  Opener
	vendors VendorSource
	cfg     SearchConfig
	now     func() time.Time
}

// NewSearcher creates a searcher.
func NewSearcher(opener Opener, vendors VendorSource, cfg SearchConfig) *Searcher {
	def := DefaultSearchConfig()
	if cfg.BroadCap <= 0 {
		cfg.BroadCap = def.BroadCap
	}
	if cfg.HardCap <= 0 {
		cfg.HardCap = def.HardCap
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	return &Searcher{opener: opener, vendors: vendors, cfg: cfg, now: time.Now}
}

// Search returns candidate messages for the user, deduplicated by ID. The
// broad keyword query is served first up to BroadCap; vendor sender
// queries fill the remaining capacity.
func (s *Searcher) Search(ctx context.Context, userID string, opts models.SearchOptions) ([]models.RawMessage, error) {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = 500
	}
	if limit > s.cfg.HardCap {
		limit = s.cfg.HardCap
	}

	mb, err := s.opener.Open(ctx, userID)
	if err != nil {
		return nil, err
	}

	after := "after:" + s.now().UTC().AddDate(0, 0, -opts.DaysBack).Format("2006/01/02")
	acc := newAccumulator(limit)

	broad := fmt.Sprintf("%s %s %s", broadKeywords, broadExclude, after)
	if err := s.collect(ctx, mb, broad, min(limit, s.cfg.BroadCap), acc); err != nil {
		return nil, fmt.Errorf("broad search: %w", err)
	}
	broadCount := acc.len()

	if acc.remaining() > 0 {
		senders, err := s.senderTerms(ctx, opts.VendorIDs)
		if err != nil {
			return nil, err
		}
		for start := 0; start < len(senders) && acc.remaining() > 0; start += s.cfg.ChunkSize {
			end := min(start+s.cfg.ChunkSize, len(senders))
			q := fmt.Sprintf("(%s) %s %s %s", strings.Join(senders[start:end], " OR "), vendorTerms, vendorExclude, after)
			if err := s.collect(ctx, mb, q, acc.remaining(), acc); err != nil {
				return nil, fmt.Errorf("vendor search: %w", err)
			}
		}
	}

	slog.Info("mailbox search complete",
		"user", userID,
		"days_back", opts.DaysBack,
		"broad", broadCount,
		"total", acc.len(),
		"limit", limit,
	)
	return acc.messages, nil
}

// collect pages through query until want new messages were added or the
// pages run out.
func (s *Searcher) collect(ctx context.Context, mb Mailbox, query string, want int, acc *accumulator) error {
	target := acc.len() + want
	pageToken := ""
	for acc.len() < target && acc.remaining() > 0 {
		size := min(s.cfg.PageSize, target-acc.len())
		page, err := mb.ListMessages(ctx, query, int64(size), pageToken)
		if err != nil {
			return err
		}
		for _, m := range page.Messages {
			if acc.len() >= target {
				break
			}
			acc.add(m)
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
	return nil
}

// senderTerms builds from: clauses for the selected vendors plus the
// payment processors and shared billers.
func (s *Searcher) senderTerms(ctx context.Context, vendorIDs []string) ([]string, error) {
	var (
		vendors []models.Vendor
		err     error
	)
	if len(vendorIDs) > 0 {
		vendors, err = s.vendors.ListByIDs(ctx, vendorIDs)
	} else {
		vendors, err = s.vendors.ListBySlugs(ctx, vendor.CuratedSlugs())
	}
	if err != nil {
		return nil, fmt.Errorf("load vendors for search: %w", err)
	}

	seen := make(map[string]bool)
	var terms []string
	add := func(pattern string) {
		p := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(pattern)), "@")
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		terms = append(terms, "from:"+p)
	}

	for _, v := range vendors {
		if v.Category == models.CategoryOther {
			continue
		}
		for _, p := range v.EmailPatterns {
			add(p)
		}
	}
	for _, d := range vendor.ProcessorDomains {
		add(d)
	}
	add(vendor.SharedBillerAddress)

	return terms, nil
}

type accumulator struct {
	limit    int
	seen     map[string]bool
	messages []models.RawMessage
}

func newAccumulator(limit int) *accumulator {
	return &accumulator{limit: limit, seen: make(map[string]bool)}
}

func (a *accumulator) add(m models.RawMessage) {
	if a.seen[m.ID] || len(a.messages) >= a.limit {
		return
	}
	a.seen[m.ID] = true
	a.messages = append(a.messages, m)
}

func (a *accumulator) len() int       { return len(a.messages) }
func (a *accumulator) remaining() int { return a.limit - len(a.messages) }
