// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the streaming chat endpoints.
//
// # Endpoint Overview
//
//	| Capability                 | simple | web | doc |
//	|----------------------------|--------|-----|-----|
//	| Conversation history       | ✅     | ✅  | ✅  |
//	| Temporal query enrichment  | ❌     | ✅  | ❌  |
//	| Web evidence collection    | ❌     | ✅  | ❌  |
//	| Document retrieval         | ❌     | ❌  | ✅  |
//	| Citation marker rewriting  | ❌     | ❌  | ✅  |
//	| Heartbeat keepalive        | ✅     | ✅  | ✅  |
//	| Hash-chained SSE events    | ✅     | ✅  | ✅  |
//
// All three handlers share one control flow: load history, record the
// user turn, gather variant-specific evidence, build the prompt, stream
// the completion, record the assistant turn. Failures before the SSE
// stream opens surface as HTTP errors; failures after surface as SSE
// error events.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/chatgateway/services/gateway/citation"
	"github.com/AleutianAI/chatgateway/services/gateway/config"
	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/AleutianAI/chatgateway/services/gateway/history"
	"github.com/AleutianAI/chatgateway/services/gateway/middleware"
	"github.com/AleutianAI/chatgateway/services/gateway/observability"
	"github.com/AleutianAI/chatgateway/services/gateway/prompt"
	"github.com/AleutianAI/chatgateway/services/gateway/retrieval"
	"github.com/AleutianAI/chatgateway/services/gateway/search"
	"github.com/AleutianAI/chatgateway/services/llm"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// 15s is well under typical load balancer timeouts (60s).
	heartbeatInterval = 15 * time.Second

	// Generation limits per variant. The simple variant uses the model
	// default.
	webMaxTokens = 2000
	docMaxTokens = 4000

	// defaultTemperature applies to all variants.
	defaultTemperature = float32(0.7)
)

// EvidenceCollector is the web evidence collaborator consumed by the web
// chat handler.
type EvidenceCollector interface {
	Collect(ctx context.Context, query string, freshness search.Freshness) ([]datatypes.WebPage, error)
}

// =============================================================================
// Interface Definition
// =============================================================================

// ChatStreamHandler defines the three streaming chat endpoints.
//
// # Description
//
// Each method is a Gin handler producing an SSE stream of hash-chained
// events (status, sources, token, done, error). HTTP error codes are only
// returned before the stream opens:
//
//   - 400 Bad Request: Invalid request body or validation failure.
//   - 500 Internal Server Error: History store failure or SSE setup
//     failure; body carries the error-derived status text.
//
// # Thread Safety
//
// Implementations must be safe for concurrent requests.
type ChatStreamHandler interface {
	// HandleSimpleChatStream serves POST /v1/chat/simple/stream: history
	// plus the user message, no enrichment.
	HandleSimpleChatStream(c *gin.Context)

	// HandleWebChatStream serves POST /v1/chat/web/stream: temporal query
	// enrichment, web evidence collection, web-grounded prompt.
	HandleWebChatStream(c *gin.Context)

	// HandleDocChatStream serves POST /v1/chat/doc/stream: department-
	// scoped document retrieval, citation-grounded prompt, and citation
	// marker rewriting on the outgoing stream.
	HandleDocChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// chatStreamHandler implements ChatStreamHandler.
type chatStreamHandler struct {
	llmClient llm.LLMClient
	histStore history.Store
	collector EvidenceCollector
	selector  retrieval.DocumentSearcher
	prompts   *prompt.Builder
	cfg       *config.Config
	tracer    trace.Tracer
}

var _ ChatStreamHandler = (*chatStreamHandler)(nil)

// NewChatStreamHandler creates a ChatStreamHandler with its dependencies.
//
// # Inputs
//
//   - llmClient: Streaming completion client. Must not be nil.
//   - histStore: Conversation history store. Must not be nil.
//   - collector: Web evidence collector. May be nil only if the web
//     endpoint is not routed.
//   - selector: Document similarity searcher. May be nil only if the doc
//     endpoint is not routed.
//   - prompts: Prompt builder. Must not be nil.
//   - cfg: Gateway configuration. Must not be nil.
//
// # Outputs
//
//   - ChatStreamHandler: Ready for use with the Gin router.
func NewChatStreamHandler(
	llmClient llm.LLMClient,
	histStore history.Store,
	collector EvidenceCollector,
	selector retrieval.DocumentSearcher,
	prompts *prompt.Builder,
	cfg *config.Config,
) ChatStreamHandler {
	if llmClient == nil {
		panic("NewChatStreamHandler: llmClient must not be nil")
	}
	if histStore == nil {
		panic("NewChatStreamHandler: histStore must not be nil")
	}
	if prompts == nil {
		panic("NewChatStreamHandler: prompts must not be nil")
	}
	if cfg == nil {
		panic("NewChatStreamHandler: cfg must not be nil")
	}

	return &chatStreamHandler{
		llmClient: llmClient,
		histStore: histStore,
		collector: collector,
		selector:  selector,
		prompts:   prompts,
		cfg:       cfg,
		tracer:    otel.Tracer("gateway/handlers"),
	}
}

// =============================================================================
// Shared Request Setup
// =============================================================================

// streamSetup carries the per-request state shared by all variants after
// the pre-stream phase succeeded.
type streamSetup struct {
	req     datatypes.ChatStreamRequest
	userID  string
	history []datatypes.Message
	writer  SSEWriter
}

// prepareStream runs the shared pre-stream phase: parse and validate the
// request, load history, record the user turn (record-before-call on
// every variant), then open the SSE stream.
//
// Returns nil after writing an HTTP error response when any step fails.
func (h *chatStreamHandler) prepareStream(c *gin.Context, span trace.Span, endpoint observability.Endpoint) *streamSetup {
	userID := middleware.GetUserID(c)
	span.SetAttributes(attribute.String("user.id", userID))

	// Step 1: Parse request body.
	var req datatypes.ChatStreamRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat stream request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil
	}

	// Step 2: Fill defaults, then validate.
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat stream request validation failed",
			"error", err,
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return nil
	}

	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("request.thread_id", req.ThreadID),
	)

	ctx := c.Request.Context()

	// Step 3: Load the rolling history window.
	hist, err := h.histStore.GetRecent(ctx, req.ThreadID, userID, h.cfg.HistoryWindow)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history load failed")
		slog.Error("Failed to load conversation history",
			"error", err,
			"threadId", req.ThreadID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeHistoryError)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}

	// Step 4: Record the user turn before the completion call, uniformly
	// across variants.
	if err := h.histStore.Append(ctx, history.Record{
		ThreadID:  req.ThreadID,
		UserID:    userID,
		Role:      datatypes.RoleUser,
		Content:   req.Message,
		Timestamp: req.Timestamp,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history append failed")
		slog.Error("Failed to record user turn",
			"error", err,
			"threadId", req.ThreadID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeHistoryError)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}

	// Step 5: Open the SSE stream. From here on, failures are SSE error
	// events, not HTTP statuses.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer",
			"error", err,
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return nil
	}

	return &streamSetup{
		req:     req,
		userID:  userID,
		history: hist,
		writer:  writer,
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleSimpleChatStream processes plain chat requests with SSE streaming.
//
// # Outputs
//
// SSE Events:
//   - event: status, data: {"type":"status","message":"Generating response..."}
//   - event: token,  data: {"type":"token","content":"..."}
//   - event: done,   data: {"type":"done","thread_id":"..."}
//   - event: error,  data: {"type":"error","error":"..."}
func (h *chatStreamHandler) HandleSimpleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointSimpleChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleSimpleChatStream")
	defer span.End()

	success := false
	defer h.trackStream(endpoint, startTime, &success)()

	setup := h.prepareStream(c, span, endpoint)
	if setup == nil {
		return
	}

	if err := setup.writer.WriteStatus("Generating response..."); err != nil {
		span.RecordError(err)
		return
	}

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, setup.writer, endpoint, heartbeatDone)

	messages := h.prompts.BuildSimple(setup.history, setup.req.Message)
	params := llm.GenerationParams{
		Model:       h.cfg.SelectModel(setup.req.APIModel),
		Temperature: ptrFloat32(defaultTemperature),
	}

	answer, streamOK := h.streamAndRecord(ctx, span, endpoint, setup, messages, params, nil, startTime)
	close(heartbeatDone)
	if !streamOK {
		return
	}

	h.recordAssistantTurn(ctx, span, endpoint, setup, answer, "")
	success = true
	span.SetStatus(codes.Ok, "stream completed successfully")
}

// HandleWebChatStream processes web-search-augmented chat requests.
//
// # Description
//
// The flow is:
//  1. Shared pre-stream phase (parse, validate, history, record user turn)
//  2. Enrich the query for temporal intent and pick a freshness scope
//  3. Emit a status event and collect web evidence (bounded fan-out)
//  4. Emit a sources event listing the evidence
//  5. Build the web prompt (explicit no-results notice when empty)
//  6. Stream tokens, then record the assistant turn
//
// A failed search call ends the stream with an SSE error event; a failed
// page fetch only degrades that page's evidence.
func (h *chatStreamHandler) HandleWebChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointWebChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleWebChatStream")
	defer span.End()

	success := false
	defer h.trackStream(endpoint, startTime, &success)()

	setup := h.prepareStream(c, span, endpoint)
	if setup == nil {
		return
	}

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, setup.writer, endpoint, heartbeatDone)
	defer close(heartbeatDone)

	// Step 6: Temporal enrichment, then evidence collection.
	now := h.cfg.Now()
	query, freshness := search.EnrichQuery(setup.req.Message, now)
	span.SetAttributes(
		attribute.String("search.freshness", string(freshness)),
		attribute.Bool("search.temporal_intent", search.HasTemporalIntent(setup.req.Message)),
	)

	if err := setup.writer.WriteStatus("Searching the web..."); err != nil {
		span.RecordError(err)
		return
	}

	evidence, err := h.collector.Collect(ctx, query, freshness)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "web search failed")
		slog.Error("Web evidence collection failed",
			"error", err,
			"requestId", setup.req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeSearchError)
		}
		_ = setup.writer.WriteError(sanitizeErrorForClient(err.Error()))
		return
	}
	span.SetAttributes(attribute.Int("search.evidence_count", len(evidence)))

	if len(evidence) > 0 {
		sources := make([]datatypes.SourceInfo, 0, len(evidence))
		for _, page := range evidence {
			sources = append(sources, datatypes.SourceInfo{Source: page.URL})
		}
		if err := setup.writer.WriteSources(sources); err != nil {
			span.RecordError(err)
			return
		}
	}

	if err := setup.writer.WriteStatus("Generating response..."); err != nil {
		span.RecordError(err)
		return
	}

	messages := h.prompts.BuildWeb(now, setup.history, setup.req.Message, evidence)
	params := llm.GenerationParams{
		Model:       h.cfg.SelectModel(setup.req.APIModel),
		Temperature: ptrFloat32(defaultTemperature),
		MaxTokens:   ptrInt(webMaxTokens),
	}

	answer, streamOK := h.streamAndRecord(ctx, span, endpoint, setup, messages, params, nil, startTime)
	if !streamOK {
		return
	}

	h.recordAssistantTurn(ctx, span, endpoint, setup, answer, "")
	success = true
	span.SetStatus(codes.Ok, "stream completed successfully")
}

// HandleDocChatStream processes document-grounded chat requests.
//
// # Description
//
// The flow is:
//  1. Shared pre-stream phase (parse, validate, history, record user turn)
//  2. Similarity search scoped by the request's department
//  3. Build citation candidates (invalid hits filtered, placeholder when
//     nothing survives) and emit a sources event
//  4. Build the document prompt with the synthetic citation-hint turn
//  5. Stream tokens through the citation rewriter, which replaces every
//     marker payload with the ground-truth candidate list
//  6. Record the assistant turn with the retrieval context attached
func (h *chatStreamHandler) HandleDocChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointDocChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleDocChatStream")
	defer span.End()

	success := false
	defer h.trackStream(endpoint, startTime, &success)()

	setup := h.prepareStream(c, span, endpoint)
	if setup == nil {
		return
	}

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, setup.writer, endpoint, heartbeatDone)
	defer close(heartbeatDone)

	if err := setup.writer.WriteStatus("Searching documents..."); err != nil {
		span.RecordError(err)
		return
	}

	// Step 6: Department-scoped similarity search.
	docs, err := h.selector.Search(ctx, setup.req.Message, setup.req.Department, h.cfg.RetrievalLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "document retrieval failed")
		slog.Error("Document retrieval failed",
			"error", err,
			"requestId", setup.req.RequestID,
			"department", setup.req.Department,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeRetrievalError)
		}
		_ = setup.writer.WriteError(sanitizeErrorForClient(err.Error()))
		return
	}

	valid := datatypes.ValidDocuments(docs)
	items := datatypes.BuildCitationItems(docs)
	span.SetAttributes(
		attribute.Int("retrieval.hits", len(docs)),
		attribute.Int("retrieval.valid_hits", len(valid)),
	)

	if len(valid) > 0 {
		sources := make([]datatypes.SourceInfo, 0, len(valid))
		for _, doc := range valid {
			sources = append(sources, datatypes.SourceInfo{
				Source:   doc.Source,
				DeptName: doc.DeptName,
				Id:       doc.Id,
			})
		}
		if err := setup.writer.WriteSources(sources); err != nil {
			span.RecordError(err)
			return
		}
	}

	if err := setup.writer.WriteStatus("Generating response..."); err != nil {
		span.RecordError(err)
		return
	}

	messages := h.prompts.BuildDoc(setup.history, setup.req.Message, docs, items)
	params := llm.GenerationParams{
		Model:       h.cfg.SelectModel(setup.req.APIModel),
		Temperature: ptrFloat32(defaultTemperature),
		MaxTokens:   ptrInt(docMaxTokens),
	}

	rewriter := citation.NewStreamRewriter(items)
	answer, streamOK := h.streamAndRecord(ctx, span, endpoint, setup, messages, params, rewriter, startTime)
	if !streamOK {
		return
	}

	h.recordAssistantTurn(ctx, span, endpoint, setup, answer, serializeRetrievalContext(valid))
	success = true
	span.SetStatus(codes.Ok, "stream completed successfully")
}

// =============================================================================
// Streaming Core
// =============================================================================

// streamAndRecord runs the completion stream: tokens pass through the
// optional citation rewriter, accumulate for persistence, and flush to
// the client. Returns the full answer text and whether the stream
// completed (the done event included).
func (h *chatStreamHandler) streamAndRecord(
	ctx context.Context,
	span trace.Span,
	endpoint observability.Endpoint,
	setup *streamSetup,
	messages []datatypes.Message,
	params llm.GenerationParams,
	rewriter *citation.StreamRewriter,
	startTime time.Time,
) (string, bool) {
	accumulator, accErr := NewTokenAccumulator()
	if accErr != nil {
		// The stream can proceed; only persistence of the answer is lost.
		slog.Warn("Failed to create token accumulator",
			"error", accErr,
			"requestId", setup.req.RequestID,
		)
	}
	defer func() {
		if accumulator != nil {
			accumulator.Destroy()
		}
	}()

	var tokenCount int32
	firstTokenTime := time.Time{}

	emit := func(text string) error {
		if text == "" {
			return nil
		}
		if accumulator != nil {
			if err := accumulator.Write(text); err != nil {
				slog.Warn("Failed to accumulate token for persistence",
					"requestId", setup.req.RequestID,
					"error", err,
				)
			}
		}
		return setup.writer.WriteToken(text)
	}

	callback := func(event llm.StreamEvent) error {
		// Stop immediately when the client disconnected.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if firstTokenTime.IsZero() {
				firstTokenTime = time.Now()
			}
			atomic.AddInt32(&tokenCount, 1)

			out := event.Content
			if rewriter != nil {
				out = rewriter.Transform(event.Content)
			}
			return emit(out)

		case llm.StreamEventError:
			// The client also returns the stream error; the post-stream
			// path writes the single SSE error event.
			slog.Debug("Stream error event received",
				"requestId", setup.req.RequestID,
				"error", event.Error,
			)
		}
		return nil
	}

	streamErr := h.llmClient.ChatStream(ctx, messages, params, callback)
	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "completion streaming failed")
		span.SetAttributes(attribute.Int("stream.token_count", int(atomic.LoadInt32(&tokenCount))))
		slog.Error("Completion streaming failed",
			"error", streamErr,
			"requestId", setup.req.RequestID,
			"tokenCount", atomic.LoadInt32(&tokenCount),
		)
		if m := observability.DefaultMetrics; m != nil {
			if errors.Is(streamErr, context.Canceled) {
				m.RecordError(endpoint, observability.ErrorCodeInternal)
			} else {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
		}
		_ = setup.writer.WriteError(sanitizeErrorForClient(streamErr.Error()))
		return "", false
	}

	// An unterminated citation marker flushes verbatim at stream end.
	if rewriter != nil {
		if err := emit(rewriter.Flush()); err != nil {
			span.RecordError(err)
			return "", false
		}
	}

	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}
	span.SetAttributes(attribute.Int("stream.token_count", int(atomic.LoadInt32(&tokenCount))))

	if err := setup.writer.WriteDone(setup.req.ThreadID); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write done event",
			"error", err,
			"requestId", setup.req.RequestID,
		)
		return "", false
	}

	if accumulator == nil {
		return "", true
	}
	answer, _, finErr := accumulator.Finalize()
	if finErr != nil {
		slog.Warn("Failed to finalize accumulated answer",
			"error", finErr,
			"requestId", setup.req.RequestID,
		)
		return "", true
	}
	return answer, true
}

// recordAssistantTurn persists the assistant's answer at stream end. A
// failed write is logged but does not fail the already-delivered stream.
func (h *chatStreamHandler) recordAssistantTurn(
	ctx context.Context,
	span trace.Span,
	endpoint observability.Endpoint,
	setup *streamSetup,
	answer string,
	retrievalContext string,
) {
	if answer == "" {
		return
	}

	if err := h.histStore.Append(ctx, history.Record{
		ThreadID:  setup.req.ThreadID,
		UserID:    setup.userID,
		Role:      datatypes.RoleAssistant,
		Content:   answer,
		Context:   retrievalContext,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		span.RecordError(err)
		slog.Error("Failed to record assistant turn",
			"error", err,
			"threadId", setup.req.ThreadID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeHistoryError)
		}
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// trackStream wires the active-stream gauge and the request/duration
// metrics around one handler invocation. Defer the returned function at
// handler start; it reads success when the handler ends.
func (h *chatStreamHandler) trackStream(endpoint observability.Endpoint, startTime time.Time, success *bool) func() {
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
	}
	return func() {
		if m := observability.DefaultMetrics; m != nil {
			m.StreamEnded(endpoint)
			m.RecordRequest(endpoint, *success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), *success)
		}
	}
}

// runHeartbeat sends periodic keepalive pings until done closes or the
// request context ends. Write failures stop the heartbeat silently; the
// main stream surfaces the broken connection on its next write.
func (h *chatStreamHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// sanitizeErrorForClient removes internal details from error messages.
// The full error is logged internally; the client sees a generic text.
func sanitizeErrorForClient(errMsg string) string {
	slog.Debug("Sanitizing error for client", "original_error", errMsg)
	return "An error occurred while processing your request"
}

// serializeRetrievalContext renders the retrieval context attached to the
// assistant's history record for later audit.
func serializeRetrievalContext(docs []datatypes.RelevantDocument) string {
	if len(docs) == 0 {
		return ""
	}
	type ref struct {
		Source   string `json:"source"`
		DeptName string `json:"deptName"`
		Id       string `json:"id"`
	}
	refs := make([]ref, 0, len(docs))
	for _, doc := range docs {
		refs = append(refs, ref{Source: doc.Source, DeptName: doc.DeptName, Id: doc.Id})
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return ""
	}
	return string(data)
}

func ptrFloat32(v float32) *float32 { return &v }
func ptrInt(v int) *int             { return &v }
