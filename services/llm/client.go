// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the completion API client used by the chat gateway.
//
// The package exposes a backend-neutral LLMClient interface plus the
// streaming event types consumed by the SSE handlers. The production
// implementation is backed by the hosted OpenAI-compatible completion API.
package llm

import (
	"context"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// GenerationParams carries optional generation parameters for a completion
// call. Nil pointer fields mean "use the backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// Model overrides the client's configured model for a single call
	// when non-empty. See config.SelectModel for how request flags map here.
	Model string `json:"model,omitempty"`
}

// =============================================================================
// Streaming Event Types
// =============================================================================

// StreamEventType identifies the kind of event emitted during streaming.
type StreamEventType int

const (
	// StreamEventToken is a content token from the completion stream.
	StreamEventToken StreamEventType = iota
	// StreamEventDone signals normal end of stream.
	StreamEventDone
	// StreamEventError carries a stream-level error message.
	StreamEventError
)

// StreamEvent is a single event from a streaming completion call.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback is invoked for each event during streaming.
//
// # Description
//
// StreamCallback receives tokens as they are generated by the completion
// backend, in arrival order. Return a non-nil error to abort streaming
// (e.g. on client disconnect); the abort error propagates out of ChatStream.
//
// # Assumptions
//
//   - Called sequentially from a single goroutine.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Interface Definition
// =============================================================================

// LLMClient defines the standard interface for any completion backend.
//
// # Description
//
// LLMClient abstracts the hosted completion API so handlers and services
// can be tested against fakes. Implementations must be safe for concurrent
// use; one client is shared across all requests.
type LLMClient interface {
	// Generate produces a single non-streaming completion for a prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat conducts a non-streaming conversation with message history.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream streams a conversation response token-by-token.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation; checked between chunks.
	//   - messages: Full message list including system/user/assistant turns.
	//   - params: Generation parameters; params.Model overrides the default.
	//   - callback: Receives StreamEvent values in order. A callback error
	//     aborts the stream and is returned.
	//
	// # Outputs
	//
	//   - error: Non-nil if the stream could not be opened, was aborted by
	//     the callback, or failed mid-stream.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}
