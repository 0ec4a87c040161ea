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

package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis implements the few commands Claims uses over an in-memory map.
type fakeRedis struct {
	redis.Cmdable

	mu   sync.Mutex
	keys map[string]string
	ttls map[string]time.Duration
	fail error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if f.fail != nil {
		cmd.SetErr(f.fail)
		return cmd
	}
	if _, held := f.keys[key]; held {
		cmd.SetVal(false)
		return cmd
	}
	f.keys[key] = value.(string)
	f.ttls[key] = ttl
	cmd.SetVal(true)
	return cmd
}

// EvalSha emulates the release script: delete only when the owner matches.
func (f *fakeRedis) EvalSha(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewCmd(ctx)
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func (f *fakeRedis) held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

func TestKey(t *testing.T) {
	if got := Key("user-1", "18c2f"); got != "spendscan:inflight:user-1:18c2f" {
		t.Errorf("Key = %q", got)
	}
}

func TestNewClaims_Defaults(t *testing.T) {
	a := NewClaims(nil, 0)
	b := NewClaims(nil, 0)
	if a.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", a.ttl, DefaultTTL)
	}
	if a.owner == "" || a.owner == b.owner {
		t.Error("each claim set needs its own owner token")
	}
}

func TestClaim_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	first := NewClaims(rdb, time.Minute)
	second := NewClaims(rdb, time.Minute)

	ok, err := first.Claim(ctx, "u1", "m1")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	if rdb.ttls[Key("u1", "m1")] != time.Minute {
		t.Errorf("ttl = %v", rdb.ttls[Key("u1", "m1")])
	}

	ok, err = second.Claim(ctx, "u1", "m1")
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v; want held elsewhere", ok, err)
	}

	// A different owner cannot release it.
	if err := second.Release(ctx, "u1", "m1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !rdb.held(Key("u1", "m1")) {
		t.Fatal("claim released by non-owner")
	}

	if err := first.Release(ctx, "u1", "m1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rdb.held(Key("u1", "m1")) {
		t.Fatal("claim still held after owner release")
	}

	ok, _ = second.Claim(ctx, "u1", "m1")
	if !ok {
		t.Error("claim should be available after release")
	}
}

func TestClaim_RedisError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.fail = errors.New("connection refused")

	_, err := NewClaims(rdb, 0).Claim(context.Background(), "u1", "m1")
	if err == nil {
		t.Fatal("expected error")
	}
}
