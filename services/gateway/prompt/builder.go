// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt renders the instruction and context messages for the
// three chat variants. One template per variant; the assistant display
// name and civil time zone are injected, never read from the environment.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/chatgateway/services/gateway/citation"
	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// MaxEvidenceContentChars caps how much extracted page text enters the
// web prompt per evidence item.
const MaxEvidenceContentChars = 500

// NoSearchResultsNotice is rendered in place of the evidence block when
// the search produced nothing, so the model acknowledges the absence of
// results instead of hallucinating them.
const NoSearchResultsNotice = "No web search results were found for this question. " +
	"Answer from your own knowledge and state clearly that no current web sources were available."

// Builder renders prompts for all chat variants.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Builder struct {
	assistantName string
	location      *time.Location
}

// NewBuilder creates a prompt builder.
//
// # Inputs
//
//   - assistantName: User-visible assistant name rendered into every
//     system instruction.
//   - loc: Civil time zone used for all rendered timestamps.
func NewBuilder(assistantName string, loc *time.Location) *Builder {
	return &Builder{
		assistantName: assistantName,
		location:      loc,
	}
}

// =============================================================================
// Simple Variant
// =============================================================================

// BuildSimple assembles the message list for the plain chat variant:
// system instruction, trailing history, latest question. No enrichment.
func (b *Builder) BuildSimple(history []datatypes.Message, question string) []datatypes.Message {
	system := fmt.Sprintf(
		"You are %s, a helpful assistant. Answer the user's question directly and concisely, "+
			"using the conversation so far for context.", b.assistantName)

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: question})
	return messages
}

// =============================================================================
// Web Variant
// =============================================================================

// webSystemTemplate states the behavioral rules for web-grounded answers.
const webSystemTemplate = `You are %s, a helpful assistant that answers using web search results.

Rules:
- Prefer the freshest information available; when sources conflict, trust the most recently published one.
- Cite the publish date of any source you rely on.
- Convert relative time expressions ("yesterday", "last week") to absolute dates using the current time supplied in the user message.
- When you used any sources, always end your answer with a "References" section: one markdown bullet per source, formatted as "- [title](url) — published YYYY-MM-DD HH:MM %s".
- If no search results were supplied, say so explicitly and answer from general knowledge.`

// BuildWeb assembles the message list for the web-search variant.
//
// # Description
//
// The user turn carries the current time, the prior history serialized as
// "role: content" lines, the latest question, and a "Web search summary"
// block listing each evidence item (title, markdown link, publish date,
// snippet, first 500 chars of extracted content). With no evidence, an
// explicit no-results notice replaces the block.
//
// # Inputs
//
//   - now: Current time, already in the builder's civil zone.
//   - history: Trailing conversation window (sent separately to the model;
//     serialized here as well so the instruction can reference it).
//   - question: The user's latest message.
//   - evidence: Web evidence records, possibly empty.
func (b *Builder) BuildWeb(now time.Time, history []datatypes.Message, question string, evidence []datatypes.WebPage) []datatypes.Message {
	zoneLabel, _ := now.Zone()
	system := fmt.Sprintf(webSystemTemplate, b.assistantName, zoneLabel)

	var user strings.Builder
	fmt.Fprintf(&user, "Current time: %s\n\n", now.Format("2006-01-02 15:04 MST"))

	if len(history) > 0 {
		user.WriteString("Conversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&user, "%s: %s\n", msg.Role, msg.Content)
		}
		user.WriteString("\n")
	}

	fmt.Fprintf(&user, "Question: %s\n\n", question)

	if len(evidence) == 0 {
		user.WriteString(NoSearchResultsNotice)
	} else {
		user.WriteString("Web search summary:\n")
		for i, page := range evidence {
			fmt.Fprintf(&user, "%d. %s\n", i+1, page.Title)
			fmt.Fprintf(&user, "   [%s](%s)\n", page.Title, page.URL)
			if page.PublishDate != "" {
				fmt.Fprintf(&user, "   Published: %s\n", page.PublishDate)
			}
			if page.Snippet != "" {
				fmt.Fprintf(&user, "   Snippet: %s\n", page.Snippet)
			}
			if page.Content != "" {
				fmt.Fprintf(&user, "   Content: %s\n", truncateRunes(page.Content, MaxEvidenceContentChars))
			}
		}
	}

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: user.String()})
	return messages
}

// =============================================================================
// Document Variant
// =============================================================================

// docSystemTemplate enumerates the structured-answer and citation
// requirements for document-grounded answers. The closing marker syntax
// must match what the stream rewriter recognizes.
const docSystemTemplate = `You are %s, a helpful assistant that answers strictly from the supplied internal documents.

Answer structure, in order:
1. Overview — one short paragraph.
2. Detailed explanation — grounded in the documents.
3. Examples — when the documents provide any.
4. Caveats — limits or ambiguities in the documents.

Citation rules:
- Use only the supplied documents; do not invent sources.
- Every candidate citation you were given must appear in a single closing citation block.
- The citation block uses exactly this syntax, as the last thing in your answer with no text after it:
  {%% citation items=[{name:"...",id:"..."}] /%%}`

// BuildDoc assembles the message list for the document-RAG variant.
//
// # Description
//
// Document context only includes hits with complete citation metadata, so
// the prompt never references a document the citation list cannot account
// for. A synthetic assistant turn carrying the serialized citation
// candidates is appended after the user turn as plain-text context for
// the model.
//
// # Inputs
//
//   - history: Trailing conversation window.
//   - question: The user's latest message.
//   - docs: Raw retrieval hits; invalid entries are filtered here.
//   - items: Ground-truth citation candidates (already placeholder-
//     normalized by datatypes.BuildCitationItems).
func (b *Builder) BuildDoc(history []datatypes.Message, question string, docs []datatypes.RelevantDocument, items []datatypes.CitationItem) []datatypes.Message {
	system := fmt.Sprintf(docSystemTemplate, b.assistantName)

	var user strings.Builder
	valid := datatypes.ValidDocuments(docs)
	if len(valid) == 0 {
		user.WriteString("No matching documents were found.\n\n")
	} else {
		user.WriteString("Documents:\n\n")
		for _, doc := range valid {
			fmt.Fprintf(&user, "Source: %s\n", doc.Source)
			fmt.Fprintf(&user, "File name: %s\n", doc.DeptName)
			fmt.Fprintf(&user, "File id: %s\n", doc.Id)
			fmt.Fprintf(&user, "%s\n\n", flattenNewlines(doc.PageContent))
		}
	}
	fmt.Fprintf(&user, "Question: %s", question)

	hint := "Citation candidates for the closing citation block: " + citation.SerializeItems(items)

	messages := make([]datatypes.Message, 0, len(history)+3)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: user.String()})
	messages = append(messages, datatypes.Message{Role: datatypes.RoleAssistant, Content: hint})
	return messages
}

// flattenNewlines strips newlines so each document renders as one block.
func flattenNewlines(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
