// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the web evidence pipeline: temporal query
// enrichment, the web search API client, page fetching/extraction, and the
// bounded-concurrency evidence collector that joins them.
package search

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Freshness is the coarse recency hint passed to the search call.
type Freshness string

const (
	// FreshnessDay scopes the search to roughly the last day. Selected when
	// the query carries an immediacy cue ("latest", "today", ...).
	FreshnessDay Freshness = "Day"

	// FreshnessWeek is the default scope for temporally flavored queries.
	FreshnessWeek Freshness = "Week"
)

// Lexical temporal patterns. immediacyPattern is a strict subset of the
// cues matched by temporalPattern; both cover Japanese and English forms.
var (
	immediacyPattern = regexp.MustCompile(
		`最新|速報|たった今|現在|今日|本日|latest|breaking|right now|currently|today`)

	temporalPattern = regexp.MustCompile(
		`最新|速報|たった今|現在|今日|本日|昨日|最近|直近|今週|今月|今年|先週|先月|` +
			`latest|breaking|right now|currently|today|yesterday|recent|` +
			`this week|this month|this year|last week|last month|` +
			`\d{4}年|\d{4}[/-]\d{1,2}`)
)

// EnrichQuery rewrites a user message into a search query biased toward
// current information.
//
// # Description
//
// If the message matches any temporal lexical pattern, a "<year>年<month>月"
// suffix anchored to now is appended. If the narrower immediacy subset
// matches, an "after:YYYY-MM-DD" lower-bound token anchored to the current
// civil date is appended as well, and the freshness classifier tightens
// from Week to Day.
//
// Pure function: no side effects, and idempotent for a fixed now — suffixes
// already present are not appended twice.
//
// # Inputs
//
//   - message: Raw user message text.
//   - now: Current time, already in the service's civil time zone.
//
// # Outputs
//
//   - string: Possibly-suffixed query.
//   - Freshness: FreshnessDay when the immediacy subset matched, else
//     FreshnessWeek.
func EnrichQuery(message string, now time.Time) (string, Freshness) {
	freshness := FreshnessWeek
	if !temporalPattern.MatchString(message) {
		return message, freshness
	}

	query := message
	monthSuffix := fmt.Sprintf("%d年%d月", now.Year(), int(now.Month()))
	if !strings.Contains(query, monthSuffix) {
		query = query + " " + monthSuffix
	}

	if immediacyPattern.MatchString(message) {
		freshness = FreshnessDay
		dateToken := "after:" + now.Format("2006-01-02")
		if !strings.Contains(query, dateToken) {
			query = query + " " + dateToken
		}
	}

	return query, freshness
}

// HasTemporalIntent reports whether the message matches any temporal
// lexical pattern. Exposed for handler-level logging.
func HasTemporalIntent(message string) bool {
	return temporalPattern.MatchString(message)
}
