// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// mockSearcher returns canned results or a canned error.
type mockSearcher struct {
	results []datatypes.SearchResult
	err     error
	calls   int
}

func (m *mockSearcher) SearchWeb(_ context.Context, _ string, _ Freshness, _ int) ([]datatypes.SearchResult, error) {
	m.calls++
	return m.results, m.err
}

// mockFetcher fails for URLs listed in failURLs and otherwise returns
// deterministic content derived from the URL.
type mockFetcher struct {
	mu       sync.Mutex
	failURLs map[string]bool
	fetched  []string
}

func (m *mockFetcher) FetchPage(_ context.Context, pageURL string) (*ExtractedPage, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, pageURL)
	fail := m.failURLs[pageURL]
	m.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("simulated fetch failure for %s", pageURL)
	}
	return &ExtractedPage{
		Content:     "content of " + pageURL,
		PublishDate: "2025-03-10 09:00 JST",
	}, nil
}

func testResults(n int) []datatypes.SearchResult {
	results := make([]datatypes.SearchResult, n)
	for i := range results {
		results[i] = datatypes.SearchResult{
			Name:          fmt.Sprintf("Result %d", i),
			URL:           fmt.Sprintf("https://example.com/page-%d", i),
			Snippet:       fmt.Sprintf("snippet %d", i),
			DatePublished: "2025-03-01",
		}
	}
	return results
}

func TestCollect_PartialFailuresPreserveOrderAndCount(t *testing.T) {
	t.Parallel()

	searcher := &mockSearcher{results: testResults(5)}
	fetcher := &mockFetcher{failURLs: map[string]bool{
		"https://example.com/page-1": true,
		"https://example.com/page-3": true,
	}}
	collector := NewCollector(searcher, fetcher, 5, nil)

	pages, err := collector.Collect(context.Background(), "query", FreshnessWeek)
	require.NoError(t, err)
	require.Len(t, pages, 5)

	for i, page := range pages {
		assert.Equal(t, fmt.Sprintf("https://example.com/page-%d", i), page.URL)
		assert.Equal(t, fmt.Sprintf("Result %d", i), page.Title)
		assert.Equal(t, fmt.Sprintf("snippet %d", i), page.Snippet)
	}

	// Failed entries degrade: no content, search-provided date kept.
	assert.Empty(t, pages[1].Content)
	assert.Equal(t, "2025-03-01", pages[1].PublishDate)
	assert.Empty(t, pages[3].Content)

	// Successful entries carry extracted content and page-extracted date.
	assert.Equal(t, "content of https://example.com/page-0", pages[0].Content)
	assert.Equal(t, "2025-03-10 09:00 JST", pages[0].PublishDate)
}

func TestCollect_EmptySearchIsNotAnError(t *testing.T) {
	t.Parallel()

	searcher := &mockSearcher{}
	fetcher := &mockFetcher{}
	collector := NewCollector(searcher, fetcher, 5, nil)

	pages, err := collector.Collect(context.Background(), "query", FreshnessDay)

	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Empty(t, fetcher.fetched, "no fetches should run without results")
}

func TestCollect_SearchFailurePropagates(t *testing.T) {
	t.Parallel()

	searcher := &mockSearcher{err: &SearchError{StatusCode: 503, Message: "unavailable", Retryable: true}}
	collector := NewCollector(searcher, &mockFetcher{}, 5, nil)

	_, err := collector.Collect(context.Background(), "query", FreshnessWeek)

	require.Error(t, err)
	assert.True(t, IsSearchError(err))
}

func TestCollect_AllPagesFetched(t *testing.T) {
	t.Parallel()

	searcher := &mockSearcher{results: testResults(8)}
	fetcher := &mockFetcher{}
	collector := NewCollector(searcher, fetcher, 8, nil)

	pages, err := collector.Collect(context.Background(), "query", FreshnessWeek)

	require.NoError(t, err)
	assert.Len(t, pages, 8)
	assert.Len(t, fetcher.fetched, 8)
}
