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

// Package models defines the canonical types shared by the ingestion
// pipeline stages, the stores and the aggregation read side.
package models

// RawMessage is a handle returned by mailbox search. It carries no content;
// the orchestrator fetches the body separately.
type RawMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
}

// EmailContent is the flattened view of a single message.
type EmailContent struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"` // raw Date header
	Content string `json:"content"`
	Snippet string `json:"snippet"`
}

// SearchOptions scopes a mailbox search.
type SearchOptions struct {
	DaysBack   int
	VendorIDs  []string // empty = whole curated catalog
	MaxResults int
}
