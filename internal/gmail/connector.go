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

package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenStore loads and persists per-user OAuth tokens.
type TokenStore interface {
	Get(ctx context.Context, userID string) (*oauth2.Token, error)
	Save(ctx context.Context, userID string, tok *oauth2.Token) error
}

// ConnectorConfig configures the OAuth client and mailbox cache.
type ConnectorConfig struct {
	ClientID     string
	ClientSecret string
	CacheTTL     time.Duration // default 30m
	Endpoint     string        // API endpoint override; empty = production
}

type cachedMailbox struct {
	mailbox Mailbox
	expires time.Time
}

// Connector opens Gmail mailboxes from stored tokens. Mailboxes are cached
// per user and refreshed tokens are written back to the store.
type Connector struct {
	oauth    *oauth2.Config
	tokens   TokenStore
	cb       *gobreaker.CircuitBreaker
	ttl      time.Duration
	endpoint string
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedMailbox
}

// NewConnector creates a connector.
func NewConnector(cfg ConnectorConfig, tokens TokenStore) *Connector {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Connector{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		tokens:   tokens,
		cb:       NewBreaker(),
		ttl:      ttl,
		endpoint: cfg.Endpoint,
		now:      time.Now,
		cache:    make(map[string]cachedMailbox),
	}
}

// Open returns the user's mailbox.
func (c *Connector) Open(ctx context.Context, userID string) (Mailbox, error) {
	c.mu.Lock()
	if e, ok := c.cache[userID]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.mailbox, nil
	}
	c.mu.Unlock()

	tok, err := c.tokens.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", userID, err)
	}

	// The token source outlives this request. A rejected refresh evicts the
	// cached mailbox so a reconnected account loads from the store.
	bg := context.WithoutCancel(ctx)
	src := &persistingSource{
		base:       oauth2.ReuseTokenSource(tok, c.oauth.TokenSource(bg, tok)),
		store:      c.tokens,
		userID:     userID,
		last:       tok.AccessToken,
		onRejected: func() { c.Evict(userID) },
	}

	opts := []option.ClientOption{option.WithTokenSource(src)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmail.NewService(bg, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	mb := NewMailbox(svc, c.cb)

	c.mu.Lock()
	c.cache[userID] = cachedMailbox{mailbox: mb, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return mb, nil
}

// Evict drops a cached mailbox, e.g. after the user reconnects.
func (c *Connector) Evict(userID string) {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()
}

// BreakerState reports the shared circuit breaker state.
func (c *Connector) BreakerState() string {
	return c.cb.State().String()
}

// persistingSource saves the token whenever the access token changes.
type persistingSource struct {
	base       oauth2.TokenSource
	store      TokenStore
	userID     string
	onRejected func()

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && s.onRejected != nil {
			slog.Warn("token refresh rejected", "user", s.userID, "error", err)
			s.onRejected()
		}
		return nil, err
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if changed {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Save(ctx, s.userID, tok); err != nil {
			slog.Warn("failed to persist refreshed token", "user", s.userID, "error", err)
		} else {
			slog.Info("refreshed token persisted", "user", s.userID)
		}
	}
	return tok, nil
}
