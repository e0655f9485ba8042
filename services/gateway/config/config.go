// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config builds the gateway's runtime configuration once at startup.
//
// Handlers and services receive a *Config (or individual values) via their
// constructors instead of reading environment variables at call time, so
// behavior is explicit and tests can inject whatever they need.
package config

import (
	"log/slog"
	"os"
	"time"
)

// Model identifiers accepted by the completion API.
const (
	// DefaultModel is the lightweight model every chat variant is pinned to
	// unless PinnedModel is cleared. This pinning is deliberate: the client
	// still sends a nominal model flag, but production traffic is served by
	// one known-good model. See SelectModel.
	DefaultModel = "gpt-4o-mini"

	// SmallModel is the model the nominal "GPT-3" request flag maps to when
	// pinning is disabled.
	SmallModel = "gpt-3.5-turbo"
)

// Config is the gateway's runtime configuration.
//
// # Fields
//
//   - AssistantName: User-visible assistant name rendered into prompts.
//   - Location: Civil time zone for all prompt timestamps, query enrichment,
//     and publish-date normalization.
//   - PinnedModel: When non-empty, overrides the request's model flag on
//     every path. Defaults to DefaultModel.
//   - SearchAPIURL / SearchAPIKey: Web search collaborator endpoint.
//   - SearchResultCount: Results requested per search call.
//   - RetrievalLimit: Max similarity-search hits per document chat request.
//   - HistoryWindow: Most-recent turns loaded as conversation context.
type Config struct {
	AssistantName     string
	Location          *time.Location
	PinnedModel       string
	SearchAPIURL      string
	SearchAPIKey      string
	SearchResultCount int
	RetrievalLimit    int
	HistoryWindow     int
}

// Load builds a Config from the environment, applying defaults and logging
// what was defaulted. Never fails: a missing time zone database entry falls
// back to a fixed UTC+9 zone.
func Load() *Config {
	assistantName := os.Getenv("ASSISTANT_NAME")
	if assistantName == "" {
		assistantName = "Assistant"
		slog.Warn("ASSISTANT_NAME not set, defaulting", "name", assistantName)
	}

	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		slog.Error("Failed to load Asia/Tokyo zone, using fixed offset", "error", err)
		loc = time.FixedZone("JST", 9*60*60)
	}

	pinned := DefaultModel
	if v, ok := os.LookupEnv("CHAT_PINNED_MODEL"); ok {
		// Empty value disables pinning and re-enables the request flag.
		pinned = v
	}

	searchURL := os.Getenv("SEARCH_API_URL")
	if searchURL == "" {
		searchURL = "https://api.bing.microsoft.com/v7.0/search"
	}

	return &Config{
		AssistantName:     assistantName,
		Location:          loc,
		PinnedModel:       pinned,
		SearchAPIURL:      searchURL,
		SearchAPIKey:      os.Getenv("SEARCH_API_KEY"),
		SearchResultCount: 5,
		RetrievalLimit:    15,
		HistoryWindow:     20,
	}
}

// SelectModel maps the request's nominal model flag to a concrete model id.
//
// # Description
//
// When PinnedModel is set (the default), it wins on every path and the
// request flag is ignored; the flag is still parsed and mapped so the
// selection logic is exercised and observable rather than silently dead.
// With pinning disabled, "GPT-3" selects SmallModel and anything else
// selects DefaultModel.
//
// # Inputs
//
//   - requested: The client's api_model flag; may be empty.
//
// # Outputs
//
//   - string: The model id to send to the completion API.
func (c *Config) SelectModel(requested string) string {
	selected := DefaultModel
	if requested == "GPT-3" {
		selected = SmallModel
	}

	if c.PinnedModel != "" {
		if selected != c.PinnedModel {
			slog.Debug("Model flag overridden by pinned model",
				"requested", requested,
				"mapped", selected,
				"pinned", c.PinnedModel,
			)
		}
		return c.PinnedModel
	}
	return selected
}

// Now returns the current time in the configured civil time zone.
func (c *Config) Now() time.Time {
	return time.Now().In(c.Location)
}
