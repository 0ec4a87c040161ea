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

// Package scheduler runs the periodic resync of every user that tracks at
// least one vendor. The cron endpoint can wake it early.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcem/spendscan/internal/models"
)

// Resyncer runs one broad resync.
type Resyncer interface {
	ResyncAll(ctx context.Context, daysBack int) (models.RunResult, error)
}

// Scheduler ticks at a fixed interval and on demand.
type Scheduler struct {
	runner   Resyncer
	interval time.Duration
	daysBack int
	trigger  chan struct{}
}

// New creates a scheduler. interval defaults to 6h and daysBack to 30.
func New(runner Resyncer, interval time.Duration, daysBack int) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if daysBack <= 0 {
		daysBack = 30
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		daysBack: daysBack,
		trigger:  make(chan struct{}, 1),
	}
}

// TriggerNow requests a resync without waiting for the next tick. It never
// blocks; a request made while one is pending is folded into it.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("resync scheduler starting",
		"interval", s.interval,
		"days_back", s.daysBack,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("resync scheduler stopping")
			return
		case <-ticker.C:
			s.sync(ctx, "interval")
		case <-s.trigger:
			s.sync(ctx, "manual")
		}
	}
}

func (s *Scheduler) sync(ctx context.Context, cause string) {
	start := time.Now()
	res, err := s.runner.ResyncAll(ctx, s.daysBack)
	if err != nil {
		slog.Error("resync failed", "cause", cause, "error", err)
		return
	}
	slog.Info("resync complete",
		"cause", cause,
		"success", res.Success,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"duration", time.Since(start).String(),
	)
}
