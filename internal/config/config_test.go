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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setBaseEnv sets the required settings and points CONFIG_PATH at a file
// that does not exist.
func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://localhost/spendscan")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoad_EnvOnly(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != ProviderOpenAI || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" || cfg.ScanQueue != "scans" || cfg.Port != 8080 {
		t.Errorf("defaults: redis=%s queue=%s port=%d", cfg.RedisURL, cfg.ScanQueue, cfg.Port)
	}
	in := cfg.Ingest
	if in.BatchSize != 5 || in.MaxResultsCap != 2000 || in.BroadCap != 400 || in.DriftDays != 45 || in.ContentLimit != 8000 {
		t.Errorf("ingest defaults = %+v", in)
	}
	if !in.PDFAttachments || in.ClaimTTL != 10*time.Minute {
		t.Errorf("pdf=%v claim_ttl=%v", in.PDFAttachments, in.ClaimTTL)
	}
	if cfg.CronInterval != 6*time.Hour || cfg.CronDaysBack != 30 {
		t.Errorf("cron = %v / %d", cfg.CronInterval, cfg.CronDaysBack)
	}
}

func TestLoad_YAMLWithExpansion(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("GEMINI_KEY_FROM_VAULT", "gm-123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
redis:
  url: redis://cache:6379/2
  queues:
    scans: scans-staging
llm:
  provider: gemini
  api_key: ${GEMINI_KEY_FROM_VAULT}
  model: gemini-2.0-flash
ingest:
  batch_size: 3
  pdf_attachments: false
  claim_ttl: 2m
cron:
  interval: 1h
  days_back: 7
  secret: hush
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL != "redis://cache:6379/2" || cfg.ScanQueue != "scans-staging" {
		t.Errorf("redis = %s / %s", cfg.RedisURL, cfg.ScanQueue)
	}
	if cfg.LLM.Provider != ProviderGemini || cfg.LLM.APIKey != "gm-123" || cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Ingest.BatchSize != 3 || cfg.Ingest.PDFAttachments || cfg.Ingest.ClaimTTL != 2*time.Minute {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.CronInterval != time.Hour || cfg.CronDaysBack != 7 || cfg.CronSecret != "hush" {
		t.Errorf("cron = %v / %d / %q", cfg.CronInterval, cfg.CronDaysBack, cfg.CronSecret)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		set     map[string]string
		wantErr string
	}{
		{"database", "DATABASE_URL", nil, "DATABASE_URL"},
		{"google client", "GOOGLE_CLIENT_SECRET", nil, "GOOGLE_CLIENT_ID"},
		{"openai key", "OPENAI_API_KEY", nil, `provider "openai"`},
		{"gemini key", "", map[string]string{"LLM_PROVIDER": "gemini"}, `provider "gemini"`},
		{"unknown provider", "", map[string]string{"LLM_PROVIDER": "llama"}, "unknown llm provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			if tt.unset != "" {
				t.Setenv(tt.unset, "")
			}
			for k, v := range tt.set {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
