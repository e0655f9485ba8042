// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes: evidence and retrieval types.
//
// SearchResult and WebPage are transient per-request structures produced by
// the web evidence pipeline. RelevantDocument and CitationItem belong to the
// document retrieval pipeline. All are discarded once the prompt is built;
// only CitationItems survive into the rewritten response stream.
package datatypes

const (
	// MaxPageContentChars is the truncation limit for extracted page text.
	MaxPageContentChars = 2000

	// PlaceholderCitationName is substituted when no retrieved document
	// survives citation validation, so the citation marker is never empty.
	PlaceholderCitationName = "Document Not Found"

	// PlaceholderCitationId pairs with PlaceholderCitationName.
	PlaceholderCitationId = "unknown"

	// UnknownDocumentName is used when a citation candidate has an id but
	// lost its display name by the time the marker is serialized.
	UnknownDocumentName = "Unknown Document"
)

// =============================================================================
// Web Evidence Types
// =============================================================================

// SearchResult is one hit from the web search API.
type SearchResult struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	DatePublished string `json:"datePublished,omitempty"`
}

// WebPage is one piece of web evidence after page fetch and extraction.
//
// # Description
//
// A WebPage always exists for every search result, in the original result
// order. When the page fetch or extraction failed, Content is empty and
// Snippet/PublishDate fall back to the search API's own values — a degraded
// record, never a dropped one.
//
// # Fields
//
//   - URL, Title, Snippet: Copied from the search result.
//   - Content: Extracted main text, truncated to MaxPageContentChars.
//     Empty when the fetch failed.
//   - PublishDate: Page-extracted publish time normalized to the service
//     time zone, or the search-provided date, or empty.
type WebPage struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Content     string `json:"content"`
	PublishDate string `json:"publishDate,omitempty"`
}

// =============================================================================
// Document Retrieval Types
// =============================================================================

// RelevantDocument is one similarity-search hit from the document index.
//
// Entries missing Source or DeptName are invalid for citation purposes and
// are filtered out by BuildCitationItems; every item entering the citation
// list has both fields.
type RelevantDocument struct {
	PageContent string `json:"pageContent"`
	Source      string `json:"source"`
	DeptName    string `json:"deptName"`
	Id          string `json:"id"`
}

// CitationItem is one entry in the citation marker payload, derived 1:1
// from a valid RelevantDocument.
type CitationItem struct {
	Name string `json:"name"`
	Id   string `json:"id"`
}

// BuildCitationItems derives the citation candidate list from retrieval hits.
//
// # Description
//
// Filters out documents missing Source or DeptName, then maps each survivor
// to a CitationItem{Name: DeptName, Id: Id}. When nothing survives, returns
// exactly one placeholder item so the citation marker is never empty.
//
// # Inputs
//
//   - docs: Retrieval hits, possibly with incomplete metadata.
//
// # Outputs
//
//   - []CitationItem: Never empty; placeholder when no valid hits exist.
func BuildCitationItems(docs []RelevantDocument) []CitationItem {
	items := make([]CitationItem, 0, len(docs))
	for _, doc := range docs {
		if doc.Source == "" || doc.DeptName == "" {
			continue
		}
		items = append(items, CitationItem{Name: doc.DeptName, Id: doc.Id})
	}
	if len(items) == 0 {
		return []CitationItem{{Name: PlaceholderCitationName, Id: PlaceholderCitationId}}
	}
	return items
}

// ValidDocuments returns the retrieval hits that carry complete citation
// metadata, preserving order. Used by the prompt builder so the document
// context only references documents the citation list can account for.
func ValidDocuments(docs []RelevantDocument) []RelevantDocument {
	valid := make([]RelevantDocument, 0, len(docs))
	for _, doc := range docs {
		if doc.Source == "" || doc.DeptName == "" {
			continue
		}
		valid = append(valid, doc)
	}
	return valid
}
