// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists conversation turns and assembles the rolling
// context window from the ChatMessage class in Weaviate.
package history

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

var tracer = otel.Tracer("gateway/history")

// ClassChatMessage is the Weaviate class holding conversation turns.
const ClassChatMessage = "ChatMessage"

// Record is one conversation turn to persist.
//
// # Fields
//
//   - ThreadID / UserID: Ownership; history is loaded per (thread, user).
//   - Role / Content: The turn itself, immutable once recorded.
//   - Context: Optional audit payload; the document variant attaches the
//     retrieval context used for the answer.
//   - Timestamp: Unix milliseconds. Zero means "not set"; Append rejects it
//     so ordering is always explicit.
type Record struct {
	ThreadID  string
	UserID    string
	Role      string
	Content   string
	Context   string
	Timestamp int64
}

// Store is the history collaborator contract consumed by the handlers.
type Store interface {
	// GetRecent returns up to window most-recent turns for the thread, in
	// chronological order (oldest first).
	GetRecent(ctx context.Context, threadID, userID string, window int) ([]datatypes.Message, error)

	// Append persists one turn. Append-only; records are never updated.
	Append(ctx context.Context, rec Record) error
}

// =============================================================================
// Schema
// =============================================================================

// ChatMessageSchema returns the class definition for persisted turns.
func ChatMessageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassChatMessage,
		Description: "A single persisted conversation turn.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "thread_id",
				DataType:        []string{"text"},
				Description:     "The conversation thread this turn belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Hashed identifier of the owning user.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "Message role: system, user, or assistant.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The message text.",
				Tokenization: "word",
			},
			{
				Name:         "context",
				DataType:     []string{"text"},
				Description:  "Optional retrieval context attached for audit.",
				Tokenization: "word",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the turn was recorded.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureSchema creates the ChatMessage class if it does not exist yet.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	class := ChatMessageSchema()

	_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
	if err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}

// =============================================================================
// Weaviate Store
// =============================================================================

// WeaviateStore implements Store over the ChatMessage class.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client handles connection pooling.
type WeaviateStore struct {
	client *weaviate.Client
}

var _ Store = (*WeaviateStore)(nil)

// NewWeaviateStore creates a history store over the given client.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// GetRecent loads the window most-recent turns and returns them oldest
// first, ready to splice into a prompt.
func (s *WeaviateStore) GetRecent(ctx context.Context, threadID, userID string, window int) ([]datatypes.Message, error) {
	ctx, span := tracer.Start(ctx, "HistoryStore.GetRecent")
	defer span.End()
	span.SetAttributes(attribute.Int("history.window", window))

	threadFilter := filters.Where().
		WithPath([]string{"thread_id"}).
		WithOperator(filters.Equal).
		WithValueString(threadID)

	userFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	combined := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{threadFilter, userFilter})

	sortBy := graphql.Sort{
		Path:  []string{"timestamp"},
		Order: graphql.Desc,
	}

	fields := []graphql.Field{
		{Name: "role"},
		{Name: "content"},
		{Name: "timestamp"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassChatMessage).
		WithFields(fields...).
		WithWhere(combined).
		WithSort(sortBy).
		WithLimit(window).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("Failed to load chat history", "threadId", threadID, "error", err)
		return nil, fmt.Errorf("weaviate history query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatMessageQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse history results: %w", err)
	}

	// Newest-first from the store; reverse into chronological order.
	hits := parsed.Get.ChatMessage
	messages := make([]datatypes.Message, 0, len(hits))
	for i := len(hits) - 1; i >= 0; i-- {
		messages = append(messages, datatypes.Message{
			Role:    hits[i].Role,
			Content: hits[i].Content,
		})
	}

	slog.Debug("Loaded chat history", "threadId", threadID, "turns", len(messages))
	return messages, nil
}

// Append persists one turn under a deterministic UUID, so a retried write
// of the same turn cannot create a duplicate record.
func (s *WeaviateStore) Append(ctx context.Context, rec Record) error {
	ctx, span := tracer.Start(ctx, "HistoryStore.Append")
	defer span.End()
	span.SetAttributes(attribute.String("history.role", rec.Role))

	if rec.Timestamp == 0 {
		return fmt.Errorf("record timestamp must be set")
	}

	props := map[string]any{
		"thread_id": rec.ThreadID,
		"user_id":   rec.UserID,
		"role":      rec.Role,
		"content":   rec.Content,
		"context":   rec.Context,
		"timestamp": rec.Timestamp,
	}

	_, err := s.client.Data().Creator().
		WithClassName(ClassChatMessage).
		WithID(RecordUUID(rec)).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("Failed to persist chat turn",
			"threadId", rec.ThreadID,
			"role", rec.Role,
			"error", err,
		)
		return fmt.Errorf("failed to save chat turn: %w", err)
	}

	slog.Debug("Persisted chat turn", "threadId", rec.ThreadID, "role", rec.Role)
	return nil
}

// RecordUUID derives a stable UUID for a turn from its identifying fields.
func RecordUUID(rec Record) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d|%s",
		rec.ThreadID, rec.UserID, rec.Role, rec.Timestamp, rec.Content))

	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// Unreachable: sum always has 16+ bytes.
		return uuid.NewSHA1(uuid.NameSpaceOID, sum[:]).String()
	}
	return id.String()
}
