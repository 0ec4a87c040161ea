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
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bcem/spendscan/internal/amounts"
	"github.com/bcem/spendscan/internal/models"
)

// Confidence values assigned by the deterministic stages.
const (
	NoAmountConfidence        = 0.3
	PrimaryConfidenceFloor    = 0.9
	PrimaryFallbackConfidence = 0.8
)

// Config holds extractor settings.
type Config struct {
	MaxTokens    int // completion budget per call
	ContentLimit int // characters of email content sent to the model
	// SubstituteCeiling bounds the fallback amount picked when the model
	// returns no amount but is confident.
	SubstituteCeiling decimal.Decimal
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		MaxTokens:         1024,
		ContentLimit:      8000,
		SubstituteCeiling: decimal.NewFromInt(10000),
	}
}

// stage either produces a terminal record (done=true) or defers.
type stage interface {
	name() string
	extract(ctx context.Context, email *models.EmailContent, set models.ExtractedAmountSet) (parsed *models.ParsedInvoice, done bool, err error)
}

// Extractor runs the stage chain.
type Extractor struct {
	stages []stage
}

// NewExtractor builds the standard chain: no-amount short circuit, pinned
// primary amount, then candidate selection.
func NewExtractor(llm Completer, cfg Config) *Extractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.ContentLimit <= 0 {
		cfg.ContentLimit = DefaultConfig().ContentLimit
	}
	if !cfg.SubstituteCeiling.IsPositive() {
		cfg.SubstituteCeiling = DefaultConfig().SubstituteCeiling
	}

	return &Extractor{
		stages: []stage{
			noAmountStage{},
			&primaryStage{llm: llm, cfg: cfg},
			&candidateStage{llm: llm, cfg: cfg},
		},
	}
}

// Extract produces a ParsedInvoice for email. An error is returned only
// when the LLM is required and fails.
func (e *Extractor) Extract(ctx context.Context, email *models.EmailContent, set models.ExtractedAmountSet) (*models.ParsedInvoice, error) {
	for _, s := range e.stages {
		parsed, done, err := s.extract(ctx, email, set)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name(), err)
		}
		if done {
			parsed.ExtractedAmounts = amounts.Display(set)
			if parsed.Currency == "" {
				parsed.Currency = "USD"
			}
			return parsed, nil
		}
	}
	return nil, fmt.Errorf("no extraction stage handled message %s", email.ID)
}

type noAmountStage struct{}

func (noAmountStage) name() string { return "no_amount" }

func (noAmountStage) extract(_ context.Context, email *models.EmailContent, set models.ExtractedAmountSet) (*models.ParsedInvoice, bool, error) {
	if len(set.All) > 0 {
		return nil, false, nil
	}
	return &models.ParsedInvoice{
		VendorName:      VendorFromSender(email.From),
		Currency:        "USD",
		ConfidenceScore: NoAmountConfidence,
	}, true, nil
}

type primaryStage struct {
	llm Completer
	cfg Config
}

func (s *primaryStage) name() string { return "primary_amount" }

func (s *primaryStage) extract(ctx context.Context, email *models.EmailContent, set models.ExtractedAmountSet) (*models.ParsedInvoice, bool, error) {
	if set.Primary == nil {
		return nil, false, nil
	}
	primary := *set.Primary

	parsed, err := complete(ctx, s.llm, buildPrompt(email, &primary, nil, s.cfg.ContentLimit), s.cfg.MaxTokens)
	if err != nil {
		slog.Warn("llm extraction failed, using primary amount",
			"message_id", email.ID,
			"amount", primary.StringFixed(2),
			"error", err,
		)
		return &models.ParsedInvoice{
			VendorName:      VendorFromSender(email.From),
			Amount:          &primary,
			Currency:        "USD",
			ConfidenceScore: PrimaryFallbackConfidence,
		}, true, nil
	}

	parsed.Amount = &primary
	if parsed.ConfidenceScore < PrimaryConfidenceFloor {
		parsed.ConfidenceScore = PrimaryConfidenceFloor
	}
	if parsed.VendorName == "" {
		parsed.VendorName = VendorFromSender(email.From)
	}
	return parsed, true, nil
}

type candidateStage struct {
	llm Completer
	cfg Config
}

func (s *candidateStage) name() string { return "candidates" }

func (s *candidateStage) extract(ctx context.Context, email *models.EmailContent, set models.ExtractedAmountSet) (*models.ParsedInvoice, bool, error) {
	parsed, err := complete(ctx, s.llm, buildPrompt(email, nil, amounts.Display(set), s.cfg.ContentLimit), s.cfg.MaxTokens)
	if err != nil {
		return nil, true, err
	}

	if !parsed.HasAmount() && parsed.ConfidenceScore >= models.MinConfidence {
		if v, ok := amounts.Largest(set, s.cfg.SubstituteCeiling); ok {
			parsed.Amount = &v
		}
	}
	if parsed.VendorName == "" {
		parsed.VendorName = VendorFromSender(email.From)
	}
	return parsed, true, nil
}

func complete(ctx context.Context, llm Completer, prompt string, maxTokens int) (*models.ParsedInvoice, error) {
	raw, err := llm.CompleteJSON(ctx, prompt, maxTokens)
	if err != nil {
		return nil, err
	}
	return parseCompletion(raw)
}

// VendorFromSender derives a display name from the sender's domain:
// "billing@vercel.com" becomes "Vercel".
func VendorFromSender(from string) string {
	address := from
	if addr, err := mail.ParseAddress(from); err == nil {
		address = addr.Address
	}

	at := strings.LastIndex(address, "@")
	if at < 0 {
		return "Unknown"
	}
	domain := strings.Trim(address[at+1:], "> ")
	label, _, _ := strings.Cut(domain, ".")
	if label == "" {
		return "Unknown"
	}
	return strings.ToUpper(label[:1]) + strings.ToLower(label[1:])
}
