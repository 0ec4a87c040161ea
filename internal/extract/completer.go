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

// Package extract turns a flattened email plus its pre-extracted amounts
// into a structured invoice record. Stages are tried in order and the
// first one that produces a result wins, so the LLM is only called when
// the cheaper stages cannot decide.
package extract

import (
	"context"
	"errors"
	"fmt"
)

// Completer is a JSON-mode LLM completion backend.
type Completer interface {
	CompleteJSON(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ErrNoJSON is returned when a completion contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in completion")

// Provider names accepted by NewCompleter.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// BackendConfig selects and configures an LLM backend.
type BackendConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string // OpenAI only; empty = public API
}

// NewCompleter builds the configured backend. The returned close function
// releases backend resources and is never nil.
func NewCompleter(ctx context.Context, cfg BackendConfig) (Completer, func() error, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		c, err := NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return nil }, nil
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
