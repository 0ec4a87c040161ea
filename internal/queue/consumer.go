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

package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler processes one job. Errors are logged; the job is not retried.
type Handler func(ctx context.Context, job ScanJob) error

// Consumer pops scan jobs and runs them one at a time.
type Consumer struct {
	rdb          redis.Cmdable
	queueName    string
	popTimeout   time.Duration
	errorBackoff time.Duration
}

// NewConsumer creates a consumer for queueName.
func NewConsumer(rdb redis.Cmdable, queueName string) *Consumer {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Consumer{
		rdb:          rdb,
		queueName:    queueName,
		popTimeout:   5 * time.Second,
		errorBackoff: time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle Handler) {
	slog.Info("scan consumer started", "queue", c.queueName)

	for {
		if ctx.Err() != nil {
			slog.Info("scan consumer stopped")
			return
		}

		res, err := c.rdb.BRPop(ctx, c.popTimeout, c.queueName).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.Warn("scan queue pop failed", "queue", c.queueName, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.errorBackoff):
			}
			continue
		}

		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		c.dispatch(ctx, res[1], handle)
	}
}

func (c *Consumer) dispatch(ctx context.Context, payload string, handle Handler) {
	job, err := decodeJob(payload)
	if err != nil {
		slog.Error("dropping malformed scan job", "error", err)
		return
	}

	start := time.Now()
	if err := handle(ctx, job); err != nil {
		slog.Error("scan job failed",
			"job_id", job.ID,
			"user", job.UserID,
			"error", err,
		)
		return
	}
	slog.Info("scan job finished",
		"job_id", job.ID,
		"user", job.UserID,
		"duration", time.Since(start).String(),
	)
}
