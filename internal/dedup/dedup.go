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

// Package dedup provides short-lived in-flight claims in Redis so that two
// overlapping ingestion runs (a cron resync and a user-triggered scan) do
// not spend LLM calls on the same message at the same time. The database
// unique constraint remains the final duplicate guard.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed run can hold a claim.
	DefaultTTL = 10 * time.Minute

	keyPrefix = "spendscan:inflight:"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Claims hands out per-message processing claims.
type Claims struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	owner string
}

// NewClaims creates a claim set. Each instance has its own owner token.
func NewClaims(rdb redis.Cmdable, ttl time.Duration) *Claims {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Claims{rdb: rdb, ttl: ttl, owner: uuid.NewString()}
}

// Claim returns true if the caller now owns the message. It is atomic
// (SET NX).
func (c *Claims) Claim(ctx context.Context, userID, messageID string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, Key(userID, messageID), c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim SETNX: %w", err)
	}
	return ok, nil
}

// Release gives up a claim held by this instance.
func (c *Claims) Release(ctx context.Context, userID, messageID string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{Key(userID, messageID)}, c.owner).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// Key returns the Redis key for a (user, message) claim.
func Key(userID, messageID string) string {
	return keyPrefix + userID + ":" + messageID
}
