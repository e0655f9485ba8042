// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the chat gateway service.
//
// This file contains the chat request/response and streaming event types.
// Evidence and retrieval types live in evidence.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

// Message roles accepted by the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Checked in bytes, not runes, to bound memory for large payloads.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// DepartmentAll is the wildcard department scope: retrieval is not
	// constrained to a single department.
	DepartmentAll = "all"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces the MaxMessageContentBytes limit on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Message Types
// =============================================================================

// Message is a single conversation turn as sent to the completion API.
//
// # Fields
//
//   - Role: One of RoleSystem, RoleUser, RoleAssistant.
//   - Content: The message text. Immutable once recorded.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// =============================================================================
// Chat Stream Request
// =============================================================================

// ChatStreamRequest is the request body shared by the three streaming chat
// endpoints (simple, web, doc).
//
// # Description
//
// The request carries the user's latest message plus the conversation thread
// it belongs to. The department field only affects the document variant: it
// scopes similarity retrieval to one department, or to everything when set
// to DepartmentAll.
//
// # Fields
//
//   - RequestID: Required. UUID v4 identifier for tracing and audit.
//   - Timestamp: Required. Unix timestamp in milliseconds (UTC).
//   - Message: Required. The user's latest message (max 32KB).
//   - ThreadID: Required. Conversation thread identifier; history is loaded
//     and appended under this id.
//   - APIModel: Optional. Nominal model selector from the client ("GPT-3"
//     selects the small model id). The service configuration pins a default
//     model that overrides this flag; see config.SelectModel.
//   - Department: Optional. Document retrieval scope. Defaults to "all".
//
// # Validation
//
// Uses go-playground/validator:
//   - RequestID: required, must be valid UUID v4
//   - Timestamp: required, must be > 0
//   - Message: required, max 32768 bytes
//   - ThreadID: required
type ChatStreamRequest struct {
	RequestID  string `json:"request_id" validate:"required,uuid4"`
	Timestamp  int64  `json:"timestamp" validate:"required,gt=0"`
	Message    string `json:"message" validate:"required,maxbytes"`
	ThreadID   string `json:"thread_id" validate:"required"`
	APIModel   string `json:"api_model,omitempty"`
	Department string `json:"department,omitempty"`
}

// Validate checks the request against its validation rules.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates optional fields that downstream code relies on.
//
// # Description
//
// Fills RequestID with a fresh UUID, Timestamp with the current time, and
// Department with the wildcard scope when the client omitted them. Safe to
// call more than once.
func (r *ChatStreamRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
	if r.Department == "" {
		r.Department = DepartmentAll
	}
}

// =============================================================================
// Streaming Event Types
// =============================================================================

// StreamEvent is the SSE event envelope written to clients.
//
// # Description
//
// Every event carries a UUID, a creation timestamp, and a hash chained to
// the previous event so a client (or auditor) can verify stream integrity.
// The Type field selects which content fields are populated:
//
//   - "status":  Message
//   - "token":   Content
//   - "sources": Sources
//   - "done":    ThreadId
//   - "error":   Error
type StreamEvent struct {
	Type      string       `json:"type"`
	Content   string       `json:"content,omitempty"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	ThreadId  string       `json:"thread_id,omitempty"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	Id        string       `json:"id,omitempty"`
	CreatedAt int64        `json:"created_at,omitempty"`
	Hash      string       `json:"hash,omitempty"`
	PrevHash  string       `json:"prev_hash,omitempty"`
}

// SourceInfo describes one retrieved source surfaced to the client in a
// "sources" event.
type SourceInfo struct {
	Source   string `json:"source"`
	DeptName string `json:"dept_name,omitempty"`
	Id       string `json:"id,omitempty"`
}
