// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chatgateway/services/gateway/config"
	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/AleutianAI/chatgateway/services/gateway/history"
	"github.com/AleutianAI/chatgateway/services/gateway/prompt"
	"github.com/AleutianAI/chatgateway/services/gateway/search"
	"github.com/AleutianAI/chatgateway/services/llm"
)

// =============================================================================
// Mocks
// =============================================================================

// streamingMockLLM emits canned tokens through the streaming callback.
type streamingMockLLM struct {
	StreamTokens        []string
	StreamError         error
	ChatStreamCallCount int
	LastMessages        []datatypes.Message
	LastParams          llm.GenerationParams
}

func (m *streamingMockLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (m *streamingMockLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (m *streamingMockLLM) ChatStream(_ context.Context, messages []datatypes.Message,
	params llm.GenerationParams, callback llm.StreamCallback) error {
	m.ChatStreamCallCount++
	m.LastMessages = messages
	m.LastParams = params

	if m.StreamError != nil {
		_ = callback(llm.StreamEvent{Type: llm.StreamEventError, Error: m.StreamError.Error()})
		return m.StreamError
	}
	for _, token := range m.StreamTokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: token}); err != nil {
			return err
		}
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

// mockHistoryStore records appends and serves canned history.
type mockHistoryStore struct {
	Recent    []datatypes.Message
	GetErr    error
	AppendErr error
	Appended  []history.Record
}

func (m *mockHistoryStore) GetRecent(_ context.Context, _, _ string, _ int) ([]datatypes.Message, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.Recent, nil
}

func (m *mockHistoryStore) Append(_ context.Context, rec history.Record) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.Appended = append(m.Appended, rec)
	return nil
}

// mockEvidenceCollector returns canned web evidence.
type mockEvidenceCollector struct {
	Pages     []datatypes.WebPage
	Err       error
	LastQuery string
}

func (m *mockEvidenceCollector) Collect(_ context.Context, query string, _ search.Freshness) ([]datatypes.WebPage, error) {
	m.LastQuery = query
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Pages, nil
}

// mockDocSearcher returns canned retrieval hits.
type mockDocSearcher struct {
	Docs      []datatypes.RelevantDocument
	Err       error
	LastScope string
	LastLimit int
}

func (m *mockDocSearcher) Search(_ context.Context, _, scope string, limit int) ([]datatypes.RelevantDocument, error) {
	m.LastScope = scope
	m.LastLimit = limit
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Docs, nil
}

// =============================================================================
// Test Fixtures
// =============================================================================

func testConfig() *config.Config {
	return &config.Config{
		AssistantName:     "Aleutian",
		Location:          time.FixedZone("JST", 9*60*60),
		PinnedModel:       config.DefaultModel,
		SearchResultCount: 5,
		RetrievalLimit:    15,
		HistoryWindow:     20,
	}
}

type handlerFixture struct {
	llm       *streamingMockLLM
	store     *mockHistoryStore
	collector *mockEvidenceCollector
	selector  *mockDocSearcher
	handler   ChatStreamHandler
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	t.Setenv("GATEWAY_INSECURE_MEMORY", "true")
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	f := &handlerFixture{
		llm:       &streamingMockLLM{StreamTokens: []string{"Hello", " world"}},
		store:     &mockHistoryStore{},
		collector: &mockEvidenceCollector{},
		selector:  &mockDocSearcher{},
	}
	f.handler = NewChatStreamHandler(
		f.llm,
		f.store,
		f.collector,
		f.selector,
		prompt.NewBuilder(cfg.AssistantName, cfg.Location),
		cfg,
	)
	return f
}

func (f *handlerFixture) post(t *testing.T, handle gin.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()

	router := gin.New()
	router.POST("/stream", handle)

	var reqBody []byte
	switch v := body.(type) {
	case string:
		reqBody = []byte(v)
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/stream", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func chatRequest(message, threadID string) map[string]any {
	return map[string]any{
		"message":   message,
		"thread_id": threadID,
	}
}

// lastUserMessage returns the content of the last user-role message the
// model saw, which is where the variant-specific context is rendered.
func lastUserMessage(t *testing.T, messages []datatypes.Message) string {
	t.Helper()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == datatypes.RoleUser {
			return messages[i].Content
		}
	}
	t.Fatal("no user message in prompt")
	return ""
}

// =============================================================================
// Simple Variant
// =============================================================================

func TestHandleSimpleChatStream_HappyPath(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, f.handler.HandleSimpleChatStream, chatRequest("Hi there", "thread-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, "event: token")
	assert.Contains(t, body, `"content":"Hello"`)
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, `"thread_id":"thread-1"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	require.Len(t, f.store.Appended, 2, "user turn then assistant turn")
	assert.Equal(t, datatypes.RoleUser, f.store.Appended[0].Role)
	assert.Equal(t, "Hi there", f.store.Appended[0].Content)
	assert.Equal(t, datatypes.RoleAssistant, f.store.Appended[1].Role)
	assert.Equal(t, "Hello world", f.store.Appended[1].Content)
	assert.Empty(t, f.store.Appended[1].Context)
}

func TestHandleSimpleChatStream_PinnedModelWins(t *testing.T) {
	f := newFixture(t)

	body := chatRequest("Hi", "thread-1")
	body["api_model"] = "GPT-3"
	f.post(t, f.handler.HandleSimpleChatStream, body)

	assert.Equal(t, config.DefaultModel, f.llm.LastParams.Model)
}

func TestHandleSimpleChatStream_HistoryInPrompt(t *testing.T) {
	f := newFixture(t)
	f.store.Recent = []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "earlier question"},
		{Role: datatypes.RoleAssistant, Content: "earlier answer"},
	}

	f.post(t, f.handler.HandleSimpleChatStream, chatRequest("follow-up", "thread-1"))

	require.GreaterOrEqual(t, len(f.llm.LastMessages), 4)
	assert.Equal(t, "earlier question", f.llm.LastMessages[1].Content)
	assert.Equal(t, "earlier answer", f.llm.LastMessages[2].Content)
}

func TestHandleSimpleChatStream_InvalidBody(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, f.handler.HandleSimpleChatStream, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.llm.ChatStreamCallCount)
}

func TestHandleSimpleChatStream_EmptyMessageRejected(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, f.handler.HandleSimpleChatStream, chatRequest("", "thread-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.llm.ChatStreamCallCount)
}

func TestHandleSimpleChatStream_HistoryLoadFailure(t *testing.T) {
	f := newFixture(t)
	f.store.GetErr = fmt.Errorf("weaviate unavailable")

	rec := f.post(t, f.handler.HandleSimpleChatStream, chatRequest("Hi", "thread-1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, f.llm.ChatStreamCallCount)
}

func TestHandleSimpleChatStream_StreamFailure(t *testing.T) {
	f := newFixture(t)
	f.llm.StreamError = fmt.Errorf("backend exploded: secret internal detail")

	rec := f.post(t, f.handler.HandleSimpleChatStream, chatRequest("Hi", "thread-1"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "An error occurred while processing your request")
	assert.NotContains(t, body, "secret internal detail", "internal errors must not leak")
	assert.NotContains(t, body, "event: done")

	// Only the user turn was recorded; a failed stream has no answer.
	require.Len(t, f.store.Appended, 1)
	assert.Equal(t, datatypes.RoleUser, f.store.Appended[0].Role)
}

// =============================================================================
// Web Variant
// =============================================================================

func TestHandleWebChatStream_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.collector.Pages = []datatypes.WebPage{
		{URL: "https://example.com/a", Title: "Article A", Snippet: "snippet a", Content: "full text a", PublishDate: "2025-03-10 09:00 JST"},
		{URL: "https://example.com/b", Title: "Article B", Snippet: "snippet b"},
	}

	rec := f.post(t, f.handler.HandleWebChatStream, chatRequest("latest gateway news", "thread-2"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Searching the web...")
	assert.Contains(t, body, "event: sources")
	assert.Contains(t, body, "https://example.com/a")
	assert.Contains(t, body, "event: done")

	promptText := lastUserMessage(t, f.llm.LastMessages)
	assert.Contains(t, promptText, "Web search summary:")
	assert.Contains(t, promptText, "Article A")
	assert.Contains(t, promptText, "full text a")
	assert.Contains(t, promptText, "Current time:")

	require.NotNil(t, f.llm.LastParams.MaxTokens)
	assert.Equal(t, webMaxTokens, *f.llm.LastParams.MaxTokens)
}

func TestHandleWebChatStream_QueryEnrichment(t *testing.T) {
	f := newFixture(t)

	f.post(t, f.handler.HandleWebChatStream, chatRequest("今日のニュースは？", "thread-2"))

	// Immediacy wording adds the current-month suffix and a date filter.
	assert.Contains(t, f.collector.LastQuery, "今日のニュースは？")
	assert.Contains(t, f.collector.LastQuery, "after:")
}

func TestHandleWebChatStream_NoResults(t *testing.T) {
	f := newFixture(t)
	f.collector.Pages = []datatypes.WebPage{}

	rec := f.post(t, f.handler.HandleWebChatStream, chatRequest("obscure question", "thread-2"))

	body := rec.Body.String()
	assert.NotContains(t, body, "event: sources")
	assert.Contains(t, body, "event: done")

	promptText := lastUserMessage(t, f.llm.LastMessages)
	assert.Contains(t, promptText, prompt.NoSearchResultsNotice)
}

func TestHandleWebChatStream_SearchFailure(t *testing.T) {
	f := newFixture(t)
	f.collector.Err = &search.SearchError{StatusCode: 503, Message: "search backend down", Retryable: true}

	rec := f.post(t, f.handler.HandleWebChatStream, chatRequest("anything", "thread-2"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "An error occurred while processing your request")
	assert.NotContains(t, body, "search backend down")
	assert.Zero(t, f.llm.ChatStreamCallCount, "no completion call after failed search")
}

// =============================================================================
// Document Variant
// =============================================================================

func docHits() []datatypes.RelevantDocument {
	return []datatypes.RelevantDocument{
		{PageContent: "expense policy text", Source: "finance", DeptName: "policy.pdf", Id: "doc-1"},
		{PageContent: "travel policy text", Source: "finance", DeptName: "travel.pdf", Id: "doc-2"},
	}
}

func TestHandleDocChatStream_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.selector.Docs = docHits()

	body := chatRequest("What is the expense policy?", "thread-3")
	body["department"] = "finance"
	rec := f.post(t, f.handler.HandleDocChatStream, body)

	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "Searching documents...")
	assert.Contains(t, out, "event: sources")
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "event: done")

	assert.Equal(t, "finance", f.selector.LastScope)
	assert.Equal(t, 15, f.selector.LastLimit)

	promptText := lastUserMessage(t, f.llm.LastMessages)
	assert.Contains(t, promptText, "expense policy text")
	assert.Contains(t, promptText, "File id: doc-1")

	require.NotNil(t, f.llm.LastParams.MaxTokens)
	assert.Equal(t, docMaxTokens, *f.llm.LastParams.MaxTokens)

	// Assistant turn carries the retrieval context for audit.
	require.Len(t, f.store.Appended, 2)
	assert.Contains(t, f.store.Appended[1].Context, "doc-1")
	assert.Contains(t, f.store.Appended[1].Context, "doc-2")
}

func TestHandleDocChatStream_CitationRewritten(t *testing.T) {
	f := newFixture(t)
	f.selector.Docs = docHits()
	f.llm.StreamTokens = []string{
		"The policy says X.\n\n",
		`{% citation items=[{name:"made-up",id:"fabricated"}] /%}`,
	}

	body := chatRequest("What is the expense policy?", "thread-3")
	body["department"] = "finance"
	rec := f.post(t, f.handler.HandleDocChatStream, body)

	out := rec.Body.String()
	assert.NotContains(t, out, "fabricated", "model-authored citation payload must be replaced")
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "doc-2")
}

func TestHandleDocChatStream_MarkerSplitAcrossTokens(t *testing.T) {
	f := newFixture(t)
	f.selector.Docs = docHits()
	f.llm.StreamTokens = []string{
		"Answer. {% cit",
		`ation items=[{name:"bogus",id:"bogus-id"}] `,
		"/%} trailing",
	}

	body := chatRequest("question", "thread-3")
	body["department"] = "finance"
	rec := f.post(t, f.handler.HandleDocChatStream, body)

	out := rec.Body.String()
	assert.NotContains(t, out, "bogus-id")
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "trailing")
}

func TestHandleDocChatStream_NoHitsUsesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.selector.Docs = nil
	f.llm.StreamTokens = []string{`Done. {% citation items=[] /%}`}

	rec := f.post(t, f.handler.HandleDocChatStream, chatRequest("question", "thread-3"))

	out := rec.Body.String()
	assert.NotContains(t, out, "event: sources", "no valid documents means no sources event")
	assert.Contains(t, out, datatypes.PlaceholderCitationName)
	assert.Contains(t, out, "event: done")
}

func TestHandleDocChatStream_RetrievalFailure(t *testing.T) {
	f := newFixture(t)
	f.selector.Err = fmt.Errorf("vector store timeout")

	rec := f.post(t, f.handler.HandleDocChatStream, chatRequest("question", "thread-3"))

	out := rec.Body.String()
	assert.Contains(t, out, "event: error")
	assert.NotContains(t, out, "vector store timeout")
	assert.Zero(t, f.llm.ChatStreamCallCount)
}

func TestHandleDocChatStream_DefaultDepartmentUnscoped(t *testing.T) {
	f := newFixture(t)
	f.selector.Docs = docHits()

	f.post(t, f.handler.HandleDocChatStream, chatRequest("question", "thread-3"))

	assert.Equal(t, datatypes.DepartmentAll, f.selector.LastScope)
}

// =============================================================================
// Constructor
// =============================================================================

func TestNewChatStreamHandler_NilDepsPanic(t *testing.T) {
	cfg := testConfig()
	builder := prompt.NewBuilder(cfg.AssistantName, cfg.Location)

	assert.Panics(t, func() {
		NewChatStreamHandler(nil, &mockHistoryStore{}, nil, nil, builder, cfg)
	})
	assert.Panics(t, func() {
		NewChatStreamHandler(&streamingMockLLM{}, nil, nil, nil, builder, cfg)
	})
	assert.Panics(t, func() {
		NewChatStreamHandler(&streamingMockLLM{}, &mockHistoryStore{}, nil, nil, nil, cfg)
	})
	assert.Panics(t, func() {
		NewChatStreamHandler(&streamingMockLLM{}, &mockHistoryStore{}, nil, nil, builder, nil)
	})
}

// streamEventLines extracts the data payloads for one SSE event type.
func streamEventLines(body, eventType string) []string {
	var payloads []string
	blocks := strings.Split(body, "\n\n")
	for _, block := range blocks {
		if !strings.HasPrefix(block, "event: "+eventType+"\n") {
			continue
		}
		for _, line := range strings.Split(block, "\n") {
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				payloads = append(payloads, data)
			}
		}
	}
	return payloads
}

func TestHandleSimpleChatStream_TokenOrderPreserved(t *testing.T) {
	f := newFixture(t)
	f.llm.StreamTokens = []string{"one ", "two ", "three"}

	rec := f.post(t, f.handler.HandleSimpleChatStream, chatRequest("count", "thread-1"))

	payloads := streamEventLines(rec.Body.String(), "token")
	require.Len(t, payloads, 3)

	var contents []string
	for _, p := range payloads {
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(p), &ev))
		contents = append(contents, ev.Content)
	}
	assert.Equal(t, []string{"one ", "two ", "three"}, contents)
}
