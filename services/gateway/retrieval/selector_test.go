// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/weaviate/weaviate/entities/models"
)

func TestBuildScopeFilter_WildcardHasNoDepartmentClause(t *testing.T) {
	t.Parallel()

	where := BuildScopeFilter(datatypes.DepartmentAll).String()

	assert.Contains(t, where, "contentType")
	assert.Contains(t, where, `"document"`)
	assert.NotContains(t, where, "deptName")
}

func TestBuildScopeFilter_EmptyScopeTreatedAsWildcard(t *testing.T) {
	t.Parallel()

	where := BuildScopeFilter("").String()

	assert.NotContains(t, where, "deptName")
}

func TestBuildScopeFilter_SpecificScopeAddsEqualityClause(t *testing.T) {
	t.Parallel()

	where := BuildScopeFilter("finance").String()

	assert.Contains(t, where, "contentType")
	assert.Contains(t, where, "deptName")
	assert.Contains(t, where, `"finance"`)
	assert.Contains(t, where, "And")
}

func TestParseKnowledgeDocumentResponse(t *testing.T) {
	t.Parallel()

	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"KnowledgeDocument": []any{
					map[string]any{
						"pageContent": "expense policy text",
						"source":      "expense_policy.pdf",
						"deptName":    "finance",
						"_additional": map[string]any{"id": "doc-1"},
					},
					map[string]any{
						"pageContent": "orphaned text",
						"source":      "",
						"deptName":    "finance",
						"_additional": map[string]any{"id": "doc-2"},
					},
				},
			},
		},
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgeDocumentQueryResponse](resp)
	require.NoError(t, err)

	hits := parsed.Get.KnowledgeDocument
	require.Len(t, hits, 2)
	assert.Equal(t, "expense policy text", hits[0].PageContent)
	assert.Equal(t, "doc-1", hits[0].Additional.ID)

	// Citation validation stays downstream: the invalid hit survives
	// parsing but is dropped by BuildCitationItems.
	docs := []datatypes.RelevantDocument{
		{PageContent: hits[0].PageContent, Source: hits[0].Source, DeptName: hits[0].DeptName, Id: hits[0].Additional.ID},
		{PageContent: hits[1].PageContent, Source: hits[1].Source, DeptName: hits[1].DeptName, Id: hits[1].Additional.ID},
	}
	items := datatypes.BuildCitationItems(docs)
	require.Len(t, items, 1)
	assert.Equal(t, "finance", items[0].Name)
	assert.Equal(t, "doc-1", items[0].Id)
}
