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

// Package queue carries asynchronous "scan now" requests over a Redis list.
// The API publishes with LPUSH and the server's consumer pops with BRPOP,
// so jobs run in arrival order.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the Redis list holding scan jobs.
const DefaultQueue = "scans"

// ScanJob is a queued ingestion request for one user.
type ScanJob struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DaysBack     int       `json:"days_back"`
	VendorIDs    []string  `json:"vendor_ids,omitempty"`
	ForceReparse bool      `json:"force_reparse"`
	MaxResults   int       `json:"max_results"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Publisher enqueues scan jobs.
type Publisher struct {
	rdb       redis.Cmdable
	queueName string
}

// NewPublisher creates a publisher targeting queueName.
func NewPublisher(rdb redis.Cmdable, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{rdb: rdb, queueName: queueName}
}

// PublishScan assigns the job an ID, pushes it and returns the ID.
func (p *Publisher) PublishScan(ctx context.Context, job ScanJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := encodeJob(job)
	if err != nil {
		return "", err
	}

	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return "", fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("scan job queued",
		"job_id", job.ID,
		"user", job.UserID,
		"days_back", job.DaysBack,
		"queue", p.queueName,
	)
	return job.ID, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}

func encodeJob(job ScanJob) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal scan job: %w", err)
	}
	return string(b), nil
}

func decodeJob(payload string) (ScanJob, error) {
	var job ScanJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return ScanJob{}, fmt.Errorf("unmarshal scan job: %w", err)
	}
	if job.UserID == "" {
		return ScanJob{}, fmt.Errorf("scan job %s has no user", job.ID)
	}
	return job, nil
}
