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

package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bcem/spendscan/internal/ingest"
	"github.com/bcem/spendscan/internal/models"
)

// --- Mock scanner ---

type mockScanner struct {
	mu         sync.Mutex
	scans      []ingest.ScanRequest
	vendorPass []string
	results    map[string]models.RunResult
	errs       map[string]error
	onScan     func(userID string)
}

func newMockScanner() *mockScanner {
	return &mockScanner{
		results: make(map[string]models.RunResult),
		errs:    make(map[string]error),
	}
}

func (m *mockScanner) Scan(_ context.Context, req ingest.ScanRequest) (models.RunResult, error) {
	m.mu.Lock()
	m.scans = append(m.scans, req)
	hook := m.onScan
	res, err := m.results[req.UserID], m.errs[req.UserID]
	m.mu.Unlock()
	if hook != nil {
		hook(req.UserID)
	}
	return res, err
}

func (m *mockScanner) BackfillVendors(_ context.Context, userID string) (models.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendorPass = append(m.vendorPass, userID)
	return m.results[userID], m.errs[userID]
}

func TestRun_ScansEveryUserAndTotals(t *testing.T) {
	scanner := newMockScanner()
	scanner.results["a"] = models.RunResult{Success: 3, Skipped: 1}
	scanner.results["b"] = models.RunResult{Success: 1, Failed: 2}

	r := NewRunner(scanner, time.Millisecond)
	res, err := r.Run(context.Background(), Request{
		Users:        []string{"a", "b"},
		DaysBack:     30,
		VendorIDs:    []string{"v-aws"},
		ForceReparse: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := models.RunResult{Success: 4, Failed: 2, Skipped: 1}
	if res.Total != want {
		t.Errorf("total = %+v, want %+v", res.Total, want)
	}
	if len(res.UserResults) != 2 || res.UserResults[0].UserID != "a" || res.UserResults[1].Success != 1 {
		t.Errorf("user results = %+v", res.UserResults)
	}
	if len(scanner.scans) != 2 {
		t.Fatalf("expected 2 scans, got %d", len(scanner.scans))
	}
	got := scanner.scans[0]
	if got.DaysBack != 30 || !got.ForceReparse || len(got.VendorIDs) != 1 {
		t.Errorf("scan request = %+v", got)
	}
}

func TestRun_UserErrorContinues(t *testing.T) {
	scanner := newMockScanner()
	scanner.errs["broken"] = errors.New("token revoked")
	scanner.results["ok"] = models.RunResult{Success: 2}

	r := NewRunner(scanner, time.Millisecond)
	res, err := r.Run(context.Background(), Request{Users: []string{"broken", "ok"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Errors != 1 {
		t.Errorf("errors = %d, want 1", res.Errors)
	}
	if res.UserResults[0].Err == nil {
		t.Error("expected error recorded for first user")
	}
	if res.Total.Success != 2 {
		t.Errorf("success = %d, want 2", res.Total.Success)
	}
}

func TestRun_VendorsOnly(t *testing.T) {
	scanner := newMockScanner()
	r := NewRunner(scanner, time.Millisecond)

	if _, err := r.Run(context.Background(), Request{Users: []string{"a"}, VendorsOnly: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(scanner.scans) != 0 {
		t.Errorf("vendor pass should not search, got %d scans", len(scanner.scans))
	}
	if len(scanner.vendorPass) != 1 || scanner.vendorPass[0] != "a" {
		t.Errorf("vendor pass users = %v", scanner.vendorPass)
	}
}

func TestRun_CancelStopsBeforeNextUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner := newMockScanner()
	scanner.onScan = func(string) { cancel() }

	r := NewRunner(scanner, time.Hour)
	res, err := r.Run(ctx, Request{Users: []string{"a", "b", "c"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(res.UserResults) != 1 {
		t.Errorf("processed %d users, want 1", len(res.UserResults))
	}
}
