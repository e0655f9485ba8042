// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval selects document evidence for the document chat
// variant via vector-similarity search over the KnowledgeDocument class.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

var tracer = otel.Tracer("gateway/retrieval")

// ClassKnowledgeDocument is the Weaviate class holding indexed documents.
const ClassKnowledgeDocument = "KnowledgeDocument"

// DocumentSearcher is the similarity-search collaborator contract consumed
// by the document chat handler.
type DocumentSearcher interface {
	Search(ctx context.Context, query, scope string, limit int) ([]datatypes.RelevantDocument, error)
}

// Selector issues scoped similarity queries against Weaviate.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client handles connection pooling.
type Selector struct {
	client *weaviate.Client
}

var _ DocumentSearcher = (*Selector)(nil)

// NewSelector creates a selector over the given Weaviate client.
func NewSelector(client *weaviate.Client) *Selector {
	return &Selector{client: client}
}

// Search runs one similarity query scoped by department.
//
// # Description
//
// Builds a filter selecting only document-typed content, additionally
// constrained to the given department when scope is not the wildcard
// "all", then issues a nearText query for up to limit matches. Hits are
// returned unmodified; downstream citation-list construction is
// responsible for dropping entries with incomplete metadata.
//
// # Inputs
//
//   - ctx: Request-scoped context.
//   - query: The user's message text, used as the nearText concept.
//   - scope: Department name or datatypes.DepartmentAll.
//   - limit: Max hits requested.
//
// # Outputs
//
//   - []datatypes.RelevantDocument: May be empty; not an error.
//   - error: Non-nil when the query or response parsing fails.
func (s *Selector) Search(ctx context.Context, query, scope string, limit int) ([]datatypes.RelevantDocument, error) {
	ctx, span := tracer.Start(ctx, "RetrievalSelector.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.scope", scope),
		attribute.Int("retrieval.limit", limit),
	)

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "pageContent"},
		{Name: "source"},
		{Name: "deptName"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassKnowledgeDocument).
		WithFields(fields...).
		WithWhere(BuildScopeFilter(scope)).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("Document similarity search failed", "scope", scope, "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgeDocumentQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	hits := parsed.Get.KnowledgeDocument
	docs := make([]datatypes.RelevantDocument, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, datatypes.RelevantDocument{
			PageContent: hit.PageContent,
			Source:      hit.Source,
			DeptName:    hit.DeptName,
			Id:          hit.Additional.ID,
		})
	}

	span.SetAttributes(attribute.Int("retrieval.hits", len(docs)))
	slog.Debug("Document retrieval complete", "scope", scope, "hits", len(docs))
	return docs, nil
}

// BuildScopeFilter builds the where clause for a department scope.
//
// # Description
//
// Always constrains to contentType == "document". When scope is not the
// wildcard, adds an exact deptName equality clause joined with And. The
// wildcard scope never adds a department constraint.
func BuildScopeFilter(scope string) *filters.WhereBuilder {
	contentTypeFilter := filters.Where().
		WithPath([]string{"contentType"}).
		WithOperator(filters.Equal).
		WithValueString("document")

	if scope == "" || scope == datatypes.DepartmentAll {
		return contentTypeFilter
	}

	deptFilter := filters.Where().
		WithPath([]string{"deptName"}).
		WithOperator(filters.Equal).
		WithValueString(scope)

	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{contentTypeFilter, deptFilter})
}
