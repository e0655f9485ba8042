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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
	"github.com/AleutianAI/chatgateway/services/gateway/observability"
)

var collectorTracer = otel.Tracer("gateway/search")

// MaxFetchWorkers bounds concurrent page fetches per request. Fan-out is
// still full (every result gets a fetch); the pool only caps how many run
// at once.
const MaxFetchWorkers = 5

// Collector gathers web evidence for one enriched query: one search call,
// then a bounded-concurrency fetch of every result page.
//
// # Thread Safety
//
// Safe for concurrent use across requests; per-request state lives on the
// stack of Collect.
type Collector struct {
	searcher WebSearcher
	fetcher  PageFetcher
	count    int
	metrics  *observability.StreamingMetrics
}

// NewCollector wires a collector from its two collaborators. count is the
// number of search results requested per call. metrics may be nil in tests.
func NewCollector(searcher WebSearcher, fetcher PageFetcher, count int, metrics *observability.StreamingMetrics) *Collector {
	return &Collector{
		searcher: searcher,
		fetcher:  fetcher,
		count:    count,
		metrics:  metrics,
	}
}

// Collect runs the full evidence pipeline for one query.
//
// # Description
//
// Issues the search call, then fetches every result page concurrently
// through a worker pool of MaxFetchWorkers. Each fetch is bounded by
// PageFetchTimeout and failure-isolated: a failed or timed-out page
// degrades to a snippet-only record and never aborts the batch or cancels
// sibling fetches. The returned slice preserves the search result order
// and always has exactly one entry per search result.
//
// # Inputs
//
//   - ctx: Request-scoped context.
//   - query: Enriched search query.
//   - freshness: Recency scope for the search call.
//
// # Outputs
//
//   - []datatypes.WebPage: One entry per search result, in order. Empty
//     when the search returned nothing (a valid state, not an error).
//   - error: Only the search call itself can fail the batch.
func (c *Collector) Collect(ctx context.Context, query string, freshness Freshness) ([]datatypes.WebPage, error) {
	ctx, span := collectorTracer.Start(ctx, "EvidenceCollector.Collect")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.freshness", string(freshness)),
		attribute.Int("search.count", c.count),
	)

	results, err := c.searcher.SearchWeb(ctx, query, freshness, c.count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search call failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	if len(results) == 0 {
		slog.Info("Web search returned no results", "query", query)
		return []datatypes.WebPage{}, nil
	}

	pages := make([]datatypes.WebPage, len(results))

	g := new(errgroup.Group)
	g.SetLimit(MaxFetchWorkers)
	for i, result := range results {
		g.Go(func() error {
			pages[i] = c.fetchOne(ctx, result)
			// Per-page failures are handled inside fetchOne; never fail
			// the group, so sibling fetches keep running.
			return nil
		})
	}
	_ = g.Wait()

	return pages, nil
}

// fetchOne fetches and extracts a single result page, degrading to a
// snippet-only record on any failure.
func (c *Collector) fetchOne(ctx context.Context, result datatypes.SearchResult) datatypes.WebPage {
	page := datatypes.WebPage{
		URL:         result.URL,
		Title:       result.Name,
		Snippet:     result.Snippet,
		PublishDate: result.DatePublished,
	}

	fetchCtx, cancel := context.WithTimeout(ctx, PageFetchTimeout)
	defer cancel()

	extracted, err := c.fetcher.FetchPage(fetchCtx, result.URL)
	if err != nil {
		slog.Warn("Page fetch failed, degrading to snippet",
			"url", result.URL,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordPageFetch(true)
		}
		return page
	}
	if c.metrics != nil {
		c.metrics.RecordPageFetch(false)
	}

	page.Content = extracted.Content
	if extracted.PublishDate != "" {
		page.PublishDate = extracted.PublishDate
	}
	return page
}
