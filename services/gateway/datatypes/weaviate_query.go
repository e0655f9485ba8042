// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must have json tags matching the expected
// response shape.
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Gateway Query Response Types
// =============================================================================

// KnowledgeDocumentQueryResponse is the response shape for similarity
// queries against the KnowledgeDocument class.
type KnowledgeDocumentQueryResponse struct {
	Get struct {
		KnowledgeDocument []KnowledgeDocumentResult `json:"KnowledgeDocument"`
	} `json:"Get"`
}

// KnowledgeDocumentResult is a single similarity-search hit.
type KnowledgeDocumentResult struct {
	PageContent string `json:"pageContent"`
	Source      string `json:"source"`
	DeptName    string `json:"deptName"`
	Additional  struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ChatMessageQueryResponse is the response shape for history queries
// against the ChatMessage class.
type ChatMessageQueryResponse struct {
	Get struct {
		ChatMessage []ChatMessageResult `json:"ChatMessage"`
	} `json:"Get"`
}

// ChatMessageResult is a single persisted conversation turn.
type ChatMessageResult struct {
	ThreadID  string `json:"thread_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Context   string `json:"context"`
	Timestamp int64  `json:"timestamp"`
}
