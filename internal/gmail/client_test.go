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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// --- Mock token store ---

type mockTokens struct {
	mu    sync.Mutex
	tok   *oauth2.Token
	gets  int
	saved []*oauth2.Token
}

func (m *mockTokens) Get(context.Context, string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.tok == nil {
		return nil, ErrNoAccount
	}
	return m.tok, nil
}

func (m *mockTokens) Save(_ context.Context, _ string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, tok)
	return nil
}

func validToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "tok-1", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
}

// TestConnector_ListAgainstServer verifies the Gmail service is wired with
// the stored token and the list response is mapped.
func TestConnector_ListAgainstServer(t *testing.T) {
	var mu sync.Mutex
	var gotAuth, gotQuery, gotPageToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/messages" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("q")
		gotPageToken = r.URL.Query().Get("pageToken")
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"messages":[{"id":"a","threadId":"t1"},{"id":"b","threadId":"t2"}],"nextPageToken":"p2"}`)
	}))
	defer server.Close()

	tokens := &mockTokens{tok: validToken()}
	c := NewConnector(ConnectorConfig{ClientID: "id", ClientSecret: "secret", Endpoint: server.URL + "/"}, tokens)

	mb, err := c.Open(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	page, err := mb.ListMessages(context.Background(), "invoice", 50, "p1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	if len(page.Messages) != 2 || page.Messages[0].ID != "a" || page.Messages[1].ThreadID != "t2" {
		t.Errorf("messages = %+v", page.Messages)
	}
	if page.NextPageToken != "p2" {
		t.Errorf("next page token = %q", page.NextPageToken)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotQuery != "invoice" || gotPageToken != "p1" {
		t.Errorf("q = %q pageToken = %q", gotQuery, gotPageToken)
	}
}

func TestConnector_CachesMailbox(t *testing.T) {
	tokens := &mockTokens{tok: validToken()}
	c := NewConnector(ConnectorConfig{ClientID: "id", ClientSecret: "secret", Endpoint: "http://127.0.0.1:1/"}, tokens)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	first, err := c.Open(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	second, _ := c.Open(context.Background(), "user-1")
	if first != second || tokens.gets != 1 {
		t.Errorf("expected cached mailbox, token loads = %d", tokens.gets)
	}

	now = now.Add(31 * time.Minute)
	if _, err := c.Open(context.Background(), "user-1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tokens.gets != 2 {
		t.Errorf("expected reload after ttl, token loads = %d", tokens.gets)
	}
}

func TestConnector_NoAccount(t *testing.T) {
	c := NewConnector(ConnectorConfig{}, &mockTokens{})
	if _, err := c.Open(context.Background(), "nobody"); err == nil {
		t.Fatal("expected error for user without account")
	}
}

// TestBreaker_ClientErrorsDoNotTrip verifies 404s leave the circuit closed
// while 503s open it.
func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cb := NewBreaker()
	notFound := &googleapi.Error{Code: 404}
	for i := 0; i < 20; i++ {
		cb.Execute(func() (interface{}, error) { return nil, notFound })
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("state = %s after client errors, want closed", cb.State())
	}

	unavailable := &googleapi.Error{Code: 503}
	for i := 0; i < 6; i++ {
		cb.Execute(func() (interface{}, error) { return nil, unavailable })
	}
	if cb.State() != gobreaker.StateOpen {
		t.Errorf("state = %s after server errors, want open", cb.State())
	}
}

type stubSource struct{ tok *oauth2.Token }

func (s stubSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestPersistingSource_SavesOnlyOnChange(t *testing.T) {
	tokens := &mockTokens{}

	same := &persistingSource{base: stubSource{&oauth2.Token{AccessToken: "old"}}, store: tokens, userID: "u", last: "old"}
	if _, err := same.Token(); err != nil {
		t.Fatal(err)
	}
	if len(tokens.saved) != 0 {
		t.Fatalf("saved %d tokens for unchanged access token", len(tokens.saved))
	}

	refreshed := &persistingSource{base: stubSource{&oauth2.Token{AccessToken: "new"}}, store: tokens, userID: "u", last: "old"}
	refreshed.Token()
	refreshed.Token()
	if len(tokens.saved) != 1 || tokens.saved[0].AccessToken != "new" {
		t.Errorf("saved = %+v, want one refreshed token", tokens.saved)
	}
}

type failingSource struct{ err error }

func (s failingSource) Token() (*oauth2.Token, error) { return nil, s.err }

// TestConnector_RejectedRefreshEvicts verifies a revoked grant drops the
// cached mailbox while transient refresh failures keep it.
func TestConnector_RejectedRefreshEvicts(t *testing.T) {
	tokens := &mockTokens{tok: validToken()}
	c := NewConnector(ConnectorConfig{ClientID: "id", ClientSecret: "secret", Endpoint: "http://127.0.0.1:1/"}, tokens)

	if _, err := c.Open(context.Background(), "user-1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	transient := &persistingSource{
		base:       failingSource{errors.New("dial tcp: connection refused")},
		store:      tokens,
		userID:     "user-1",
		onRejected: func() { c.Evict("user-1") },
	}
	if _, err := transient.Token(); err == nil {
		t.Fatal("expected error")
	}
	c.Open(context.Background(), "user-1")
	if tokens.gets != 1 {
		t.Fatalf("token loads = %d after transient failure, want cached mailbox", tokens.gets)
	}

	revoked := &persistingSource{
		base:       failingSource{&oauth2.RetrieveError{ErrorCode: "invalid_grant"}},
		store:      tokens,
		userID:     "user-1",
		onRejected: func() { c.Evict("user-1") },
	}
	if _, err := revoked.Token(); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.Open(context.Background(), "user-1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tokens.gets != 2 {
		t.Errorf("token loads = %d after rejected refresh, want reload from store", tokens.gets)
	}
}

func TestPersistingSource_LogsUserKey(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	src := &persistingSource{base: stubSource{&oauth2.Token{AccessToken: "new"}}, store: &mockTokens{}, userID: "u-42", last: "old"}
	if _, err := src.Token(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"user":"u-42"`) || strings.Contains(out, "user_id") {
		t.Errorf("log line = %s, want user key", out)
	}
}
