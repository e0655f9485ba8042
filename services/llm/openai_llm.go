// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// OpenAIClient implements LLMClient against the hosted OpenAI-compatible
// completion API.
//
// # Thread Safety
//
// Thread-safe. The underlying openai.Client is safe for concurrent use and
// all other fields are read-only after construction.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// Compile-time interface check.
var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAIClient from environment configuration.
//
// # Description
//
// Reads OPENAI_API_KEY (falling back to the container secret path when the
// environment variable is unset), OPENAI_MODEL, and OPENAI_BASE_URL (for
// Azure-style or proxied deployments). Fails if no API key can be found.
//
// # Outputs
//
//   - *OpenAIClient: Ready for use.
//   - error: Non-nil if the API key is missing.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
		slog.Info("Using custom completion API base URL", "baseURL", cfg.BaseURL)
	}

	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// NewOpenAIClientWithConfig creates a client with explicit settings.
// Used by tests and by deployments that resolve configuration elsewhere.
func NewOpenAIClientWithConfig(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// resolveModel picks the model for a single call.
func (o *OpenAIClient) resolveModel(params GenerationParams) string {
	if params.Model != "" {
		return params.Model
	}
	return o.model
}

// buildRequest converts gateway messages and params into an API request.
func (o *OpenAIClient) buildRequest(messages []datatypes.Message, params GenerationParams) openai.ChatCompletionRequest {
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    o.resolveModel(params),
		Messages: apiMessages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate implements the LLMClient interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return o.Chat(ctx, []datatypes.Message{
		{Role: datatypes.RoleUser, Content: prompt},
	}, params)
}

// Chat implements the LLMClient interface.
//
// # Description
//
// Sends the full message list to the completion API and returns the first
// choice's content. Used by non-streaming paths and by tests.
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	req := o.buildRequest(messages, params)
	slog.Debug("Calling completion API", "model", req.Model, "messages", len(req.Messages))

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("Completion API call failed", "error", err)
		return "", fmt.Errorf("completion API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Completion API returned no choices")
		return "", fmt.Errorf("completion API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements the LLMClient interface.
//
// # Description
//
// Opens a streaming completion and forwards each content delta to the
// callback as a StreamEventToken. On clean end of stream a StreamEventDone
// is emitted before returning nil. A callback error aborts the stream and
// is returned to the caller so handlers can distinguish client disconnects
// from backend failures.
//
// # Limitations
//
//   - Stream-level errors after the first token are surfaced both as a
//     StreamEventError and as the returned error.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {
	req := o.buildRequest(messages, params)
	req.Stream = true

	slog.Debug("Opening completion stream", "model", req.Model, "messages", len(req.Messages))
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		slog.Error("Failed to open completion stream", "error", err)
		return fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			return callback(StreamEvent{Type: StreamEventDone})
		}
		if recvErr != nil {
			_ = callback(StreamEvent{Type: StreamEventError, Error: recvErr.Error()})
			return fmt.Errorf("completion stream receive: %w", recvErr)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: delta}); cbErr != nil {
			return cbErr
		}
	}
}
