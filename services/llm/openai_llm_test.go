// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// newStreamingServer returns a test server speaking the completion API's
// SSE chunk format for any /chat/completions request.
func newStreamingServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, token := range tokens {
			chunk := map[string]any{
				"id":      "chunk-1",
				"object":  "chat.completion.chunk",
				"created": 0,
				"model":   "test-model",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]any{"content": token}},
				},
			}
			data, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestChatStream_TokensInOrder(t *testing.T) {
	server := newStreamingServer(t, []string{"Hello", ", ", "world"})
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", server.URL, "test-model")

	var tokens []string
	sawDone := false
	err := client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error {
			switch event.Type {
			case StreamEventToken:
				assert.False(t, sawDone, "no tokens after the done event")
				tokens = append(tokens, event.Content)
			case StreamEventDone:
				sawDone = true
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", ", "world"}, tokens)
	assert.True(t, sawDone)
}

func TestChatStream_CallbackAbortPropagates(t *testing.T) {
	server := newStreamingServer(t, []string{"one", "two", "three"})
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", server.URL, "test-model")

	abort := fmt.Errorf("client went away")
	count := 0
	err := client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error {
			if event.Type != StreamEventToken {
				return nil
			}
			count++
			return abort
		})

	require.ErrorIs(t, err, abort)
	assert.Equal(t, 1, count, "abort after the first token stops delivery")
}

func TestChatStream_OpenFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", server.URL, "test-model")

	err := client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "hi"}},
		GenerationParams{},
		func(StreamEvent) error { return nil })

	assert.Error(t, err)
}

func TestChat_ReturnsFirstChoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "resp-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "the answer"}}]
		}`)
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig("test-key", server.URL, "test-model")

	answer, err := client.Chat(context.Background(),
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "question"}},
		GenerationParams{})

	require.NoError(t, err)
	assert.Equal(t, "the answer", answer)
}

func TestBuildRequest_ParamMapping(t *testing.T) {
	client := NewOpenAIClientWithConfig("test-key", "", "default-model")

	temp := float32(0.7)
	maxTokens := 2000
	req := client.buildRequest(
		[]datatypes.Message{
			{Role: datatypes.RoleSystem, Content: "be brief"},
			{Role: datatypes.RoleUser, Content: "hi"},
		},
		GenerationParams{
			Temperature: &temp,
			MaxTokens:   &maxTokens,
			Model:       "override-model",
		})

	assert.Equal(t, "override-model", req.Model)
	assert.Equal(t, temp, req.Temperature)
	assert.Equal(t, maxTokens, req.MaxCompletionTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "be brief", req.Messages[0].Content)
}

func TestBuildRequest_DefaultModel(t *testing.T) {
	client := NewOpenAIClientWithConfig("test-key", "", "default-model")

	req := client.buildRequest(
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "hi"}},
		GenerationParams{})

	assert.Equal(t, "default-model", req.Model)
}
