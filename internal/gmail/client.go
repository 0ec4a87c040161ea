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

// Package gmail searches a user's mailbox for billing emails and flattens
// the matching messages into plain text.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/bcem/spendscan/internal/models"
)

// ListPage is one page of search results.
type ListPage struct {
	Messages      []models.RawMessage
	NextPageToken string
}

// Mailbox is the mail provider surface the pipeline depends on.
type Mailbox interface {
	ListMessages(ctx context.Context, query string, maxResults int64, pageToken string) (*ListPage, error)
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Opener returns the mailbox for a user.
type Opener interface {
	Open(ctx context.Context, userID string) (Mailbox, error)
}

// NewBreaker returns the circuit breaker shared by all mailboxes. It trips
// on more than five consecutive failures or a 60% failure rate over at
// least ten requests. Client errors (4xx other than 429) do not count.
func NewBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case 400, 401, 403, 404:
		return true
	}
	return false
}

// serviceMailbox adapts a gmail.Service for one user.
type serviceMailbox struct {
	svc *gmail.Service
	cb  *gobreaker.CircuitBreaker
}

// NewMailbox wraps svc. Every call goes through cb.
func NewMailbox(svc *gmail.Service, cb *gobreaker.CircuitBreaker) Mailbox {
	return &serviceMailbox{svc: svc, cb: cb}
}

func (m *serviceMailbox) ListMessages(ctx context.Context, query string, maxResults int64, pageToken string) (*ListPage, error) {
	var resp *gmail.ListMessagesResponse
	err := m.execute("list", func() error {
		call := m.svc.Users.Messages.List("me").Q(query).MaxResults(maxResults).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	page := &ListPage{NextPageToken: resp.NextPageToken}
	for _, msg := range resp.Messages {
		page.Messages = append(page.Messages, models.RawMessage{ID: msg.Id, ThreadID: msg.ThreadId})
	}
	return page, nil
}

func (m *serviceMailbox) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := m.execute("get", func() error {
		var err error
		msg, err = m.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

func (m *serviceMailbox) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var body *gmail.MessagePartBody
	err := m.execute("attachment", func() error {
		var err error
		body, err = m.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get attachment %s/%s: %w", messageID, attachmentID, err)
	}
	return decodeBase64URL(body.Data)
}

func (m *serviceMailbox) execute(operation string, fn func() error) error {
	_, err := m.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil && !isClientError(err) {
		slog.Debug("gmail call failed",
			"operation", operation,
			"breaker_state", m.cb.State().String(),
			"error", err,
		)
	}
	return err
}

// decodeBase64URL decodes Gmail body data, which is base64url with or
// without padding.
func decodeBase64URL(data string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(data)
}
