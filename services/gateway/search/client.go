// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

// SearchError represents a failure calling the web search API.
//
// Retryable categorizes the failure for metrics and logs only; this
// pipeline performs no retries, so a search failure is terminal for its
// request.
type SearchError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *SearchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("search API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("search API error: %s", e.Message)
}

// IsSearchError checks if an error is a SearchError.
func IsSearchError(err error) bool {
	_, ok := err.(*SearchError)
	return ok
}

// =============================================================================
// Web Search Client
// =============================================================================

// WebSearcher is the search collaborator contract consumed by the
// evidence collector.
type WebSearcher interface {
	// SearchWeb issues one search call. An empty result set is a valid
	// state and returns (nil, nil), not an error.
	SearchWeb(ctx context.Context, query string, freshness Freshness, count int) ([]datatypes.SearchResult, error)
}

// Client calls a Bing-compatible web search JSON API.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying http.Client is shared.
type Client struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

var _ WebSearcher = (*Client)(nil)

// NewClient creates a search client for the given endpoint and key.
func NewClient(apiURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

// searchResponse mirrors the relevant slice of the search API's JSON body.
type searchResponse struct {
	WebPages struct {
		Value []datatypes.SearchResult `json:"value"`
	} `json:"webPages"`
}

// SearchWeb issues one search call with the given freshness scope.
//
// # Inputs
//
//   - ctx: Request-scoped context; cancellation aborts the HTTP call.
//   - query: Already-enriched search query.
//   - freshness: Recency scope forwarded to the API.
//   - count: Max results requested.
//
// # Outputs
//
//   - []datatypes.SearchResult: nil when the API returned no web pages.
//   - error: *SearchError on transport or non-2xx failures.
func (c *Client) SearchWeb(ctx context.Context, query string, freshness Freshness, count int) ([]datatypes.SearchResult, error) {
	endpoint, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, &SearchError{Message: fmt.Sprintf("invalid search API URL: %v", err)}
	}

	params := endpoint.Query()
	params.Set("q", query)
	params.Set("freshness", string(freshness))
	params.Set("count", strconv.Itoa(count))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, &SearchError{Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SearchError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &SearchError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &SearchError{Message: fmt.Sprintf("failed to decode response: %v", err)}
	}

	if len(parsed.WebPages.Value) == 0 {
		return nil, nil
	}
	return parsed.WebPages.Value, nil
}
