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
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// PageFetchTimeout is the per-page ceiling for fetch plus extraction.
const PageFetchTimeout = 30 * time.Second

// ExtractedPage is the outcome of fetching and extracting one page.
type ExtractedPage struct {
	// Content is the extracted main text, truncated to
	// datatypes.MaxPageContentChars.
	Content string

	// PublishDate is the page's publish time in the service's civil time
	// zone, or empty when no usable date was found.
	PublishDate string
}

// PageFetcher is the page fetch/scrape collaborator contract.
//
// Implementations must scope all per-page resources (connections,
// sessions) to the call and release them on both success and failure
// paths. The supplied context bounds the whole unit of work.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (*ExtractedPage, error)
}

// =============================================================================
// Goquery Fetcher
// =============================================================================

// Non-content elements removed before text extraction.
var strippedSelectors = []string{
	"script", "style", "noscript", "nav", "header", "footer", "aside",
	"iframe", "form",
	".ad", ".ads", ".advertisement", ".social-share", ".share-buttons",
	"[class*='sidebar']", "[id*='sidebar']",
}

// Ordered candidate selectors for the main textual content. The first one
// yielding non-empty text wins; body is the final fallback.
var contentSelectors = []string{
	"main",
	"article",
	"[role='main']",
	"#main-content",
	"#main",
	"#content",
	".main-content",
	".post-content",
	".article-body",
	".content",
	"body",
}

// Publish date sources, tried in order. Meta tags carry the date in their
// content attribute; time elements in datetime.
var publishDateMetaSelectors = []string{
	"meta[property='article:published_time']",
	"meta[name='pubdate']",
	"meta[name='publishdate']",
	"meta[name='date']",
	"meta[itemprop='datePublished']",
}

// Accepted publish-date layouts, most specific first.
var publishDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// GoqueryFetcher fetches a page over HTTP and extracts its main text and
// publish date with goquery.
//
// # Description
//
// Each FetchPage call owns one request/response pair; the response body is
// always closed before returning. Extraction strips non-content elements,
// then tries the ordered content selectors and takes the first non-empty
// match, collapsing whitespace and truncating to the content limit.
//
// # Thread Safety
//
// Safe for concurrent use.
type GoqueryFetcher struct {
	httpClient *http.Client
	location   *time.Location
	userAgent  string
}

var _ PageFetcher = (*GoqueryFetcher)(nil)

// NewGoqueryFetcher creates a fetcher that normalizes publish dates to loc.
func NewGoqueryFetcher(loc *time.Location) *GoqueryFetcher {
	return &GoqueryFetcher{
		httpClient: &http.Client{
			Timeout: PageFetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		location:  loc,
		userAgent: "Mozilla/5.0 (compatible; AleutianChatGateway/1.0)",
	}
}

// FetchPage fetches one page and extracts content and publish date.
func (f *GoqueryFetcher) FetchPage(ctx context.Context, pageURL string) (*ExtractedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed for %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch failed for %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}

	// Publish date first: stripping removes header/meta-adjacent nodes.
	publishDate := f.extractPublishDate(doc)

	for _, sel := range strippedSelectors {
		doc.Find(sel).Remove()
	}

	content := extractMainText(doc)
	if content == "" {
		return nil, fmt.Errorf("no textual content extracted from %s", pageURL)
	}

	return &ExtractedPage{
		Content:     truncate(content, datatypes.MaxPageContentChars),
		PublishDate: publishDate,
	}, nil
}

// extractMainText returns the first non-empty candidate region's text with
// whitespace collapsed.
func extractMainText(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		text := collapseWhitespace(doc.Find(sel).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// extractPublishDate tries the meta selectors then time[datetime], parses
// the first value that matches a known layout, and renders it in the
// fetcher's time zone.
func (f *GoqueryFetcher) extractPublishDate(doc *goquery.Document) string {
	candidates := make([]string, 0, len(publishDateMetaSelectors)+1)
	for _, sel := range publishDateMetaSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			candidates = append(candidates, strings.TrimSpace(v))
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, strings.TrimSpace(v))
	}

	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		for _, layout := range publishDateLayouts {
			t, err := time.ParseInLocation(layout, raw, f.location)
			if err != nil {
				continue
			}
			return t.In(f.location).Format("2006-01-02 15:04 MST")
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate limits s to n runes without splitting a multibyte character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
