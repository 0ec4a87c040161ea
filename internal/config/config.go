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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// LLMConfig selects and configures the extraction model.
type LLMConfig struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string // OpenAI-compatible endpoint override
	MaxTokens int
}

// IngestConfig holds pipeline tunables.
type IngestConfig struct {
	BatchSize       int
	DefaultDaysBack int
	MaxResultsCap   int
	BroadCap        int
	ChunkSize       int
	DriftDays       int
	ContentLimit    int
	PDFAttachments  bool
	ClaimTTL        time.Duration
}

// Config holds all configuration for the service and CLI.
type Config struct {
	DatabaseURL string

	// Redis
	RedisURL  string
	ScanQueue string

	// HTTP API
	Port int

	// Gmail OAuth client
	GoogleClientID     string
	GoogleClientSecret string

	LLM    LLMConfig
	Ingest IngestConfig

	// Scheduled resync
	CronInterval time.Duration
	CronDaysBack int
	CronSecret   string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Scans string `yaml:"scans"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"google"`
	LLM struct {
		Provider  string `yaml:"provider"`
		APIKey    string `yaml:"api_key"`
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"base_url"`
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"llm"`
	Ingest struct {
		BatchSize       int    `yaml:"batch_size"`
		DefaultDaysBack int    `yaml:"default_days_back"`
		MaxResultsCap   int    `yaml:"max_results_cap"`
		BroadCap        int    `yaml:"broad_cap"`
		ChunkSize       int    `yaml:"chunk_size"`
		DriftDays       int    `yaml:"drift_days"`
		ContentLimit    int    `yaml:"content_limit"`
		PDFAttachments  *bool  `yaml:"pdf_attachments"`
		ClaimTTL        string `yaml:"claim_ttl"`
	} `yaml:"ingest"`
	Cron struct {
		Interval string `yaml:"interval"`
		DaysBack int    `yaml:"days_back"`
		Secret   string `yaml:"secret"`
	} `yaml:"cron"`
}

// Load reads configuration from the YAML file at CONFIG_PATH (with env var
// expansion), fills gaps from the environment and validates the result. A
// missing file is not an error.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	provider := strings.ToLower(firstNonEmpty(raw.LLM.Provider, envOrDefault("LLM_PROVIDER", ProviderOpenAI)))
	keyEnv := "OPENAI_API_KEY"
	if provider == ProviderGemini {
		keyEnv = "GEMINI_API_KEY"
	}

	pdf := envOrDefaultBool("PDF_ATTACHMENTS", true)
	if raw.Ingest.PDFAttachments != nil {
		pdf = *raw.Ingest.PDFAttachments
	}

	cfg := &Config{
		DatabaseURL:        firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:           firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		ScanQueue:          firstNonEmpty(raw.Redis.Queues.Scans, envOrDefault("SCANS_QUEUE", "scans")),
		Port:               envOrDefaultInt("PORT", 8080),
		GoogleClientID:     firstNonEmpty(raw.Google.ClientID, os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret: firstNonEmpty(raw.Google.ClientSecret, os.Getenv("GOOGLE_CLIENT_SECRET")),
		LLM: LLMConfig{
			Provider:  provider,
			APIKey:    firstNonEmpty(raw.LLM.APIKey, os.Getenv("LLM_API_KEY"), os.Getenv(keyEnv)),
			Model:     firstNonEmpty(raw.LLM.Model, os.Getenv("LLM_MODEL")),
			BaseURL:   firstNonEmpty(raw.LLM.BaseURL, os.Getenv("LLM_BASE_URL")),
			MaxTokens: firstPositive(raw.LLM.MaxTokens, envOrDefaultInt("LLM_MAX_TOKENS", 1024)),
		},
		Ingest: IngestConfig{
			BatchSize:       firstPositive(raw.Ingest.BatchSize, envOrDefaultInt("INGEST_BATCH_SIZE", 5)),
			DefaultDaysBack: firstPositive(raw.Ingest.DefaultDaysBack, 90),
			MaxResultsCap:   firstPositive(raw.Ingest.MaxResultsCap, 2000),
			BroadCap:        firstPositive(raw.Ingest.BroadCap, 400),
			ChunkSize:       firstPositive(raw.Ingest.ChunkSize, 20),
			DriftDays:       firstPositive(raw.Ingest.DriftDays, 45),
			ContentLimit:    firstPositive(raw.Ingest.ContentLimit, envOrDefaultInt("CONTENT_LIMIT", 8000)),
			PDFAttachments:  pdf,
			ClaimTTL:        durationOr(raw.Ingest.ClaimTTL, envOrDefaultDuration("CLAIM_TTL", 10*time.Minute)),
		},
		CronInterval: durationOr(raw.Cron.Interval, envOrDefaultDuration("CRON_INTERVAL", 6*time.Hour)),
		CronDaysBack: firstPositive(raw.Cron.DaysBack, envOrDefaultInt("CRON_DAYS_BACK", 30)),
		CronSecret:   firstNonEmpty(raw.Cron.Secret, os.Getenv("CRON_SECRET")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or invalid required setting.
func (c *Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		problems = append(problems, "GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
		if c.LLM.APIKey == "" {
			problems = append(problems, fmt.Sprintf("an API key is required for llm provider %q", c.LLM.Provider))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// durationOr parses a YAML duration string, falling back when it is empty
// or malformed.
func durationOr(v string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
