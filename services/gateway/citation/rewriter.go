// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package citation rewrites citation markers inside a streaming completion.
//
// The completion model is instructed to close its answer with a marker of
// the form:
//
//	{% citation items=[{name:"...",id:"..."}] /%}
//
// The model cannot be trusted to echo the item list verbatim or keep it
// well-formed, so the marker payload is deterministically overwritten from
// the ground-truth citation candidates gathered at retrieval time, while
// surrounding prose passes through untouched and unbuffered wherever
// possible to keep latency low.
package citation

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// Marker tokens. The rewriter treats everything between an open token and
// the next close token as one marker, regardless of its payload.
const (
	MarkerOpen  = "{% citation"
	MarkerClose = "/%}"
)

// rewriterState is the two-state machine driving the rewriter.
type rewriterState int

const (
	// statePassthrough: no marker is pending; text forwards immediately.
	statePassthrough rewriterState = iota
	// stateAwaitingClose: an open token has been seen; everything from it
	// on is withheld until the close token arrives.
	stateAwaitingClose
)

// =============================================================================
// Marker Serialization
// =============================================================================

// SerializeItems renders the citation item list in marker payload form.
//
// # Description
//
// Each item is normalized before rendering: a missing name becomes
// UnknownDocumentName. An empty candidate list is replaced with the single
// placeholder item so the payload is never an empty list.
//
// # Outputs
//
//   - string: e.g. `[{name:"General Affairs",id:"doc-41"}]`
func SerializeItems(items []datatypes.CitationItem) string {
	if len(items) == 0 {
		items = []datatypes.CitationItem{{
			Name: datatypes.PlaceholderCitationName,
			Id:   datatypes.PlaceholderCitationId,
		}}
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		name := item.Name
		if name == "" {
			name = datatypes.UnknownDocumentName
		}
		b.WriteString("{name:")
		b.WriteString(strconv.Quote(name))
		b.WriteString(",id:")
		b.WriteString(strconv.Quote(item.Id))
		b.WriteByte('}')
	}
	b.WriteByte(']')
	return b.String()
}

// SerializeMarker renders a complete citation marker for the given items.
func SerializeMarker(items []datatypes.CitationItem) string {
	return MarkerOpen + " items=" + SerializeItems(items) + " " + MarkerClose
}

// =============================================================================
// Stream Rewriter
// =============================================================================

// StreamRewriter is a stateful chunk transform that replaces citation
// marker payloads in a token stream.
//
// # Description
//
// The rewriter sits between the completion stream and the SSE writer. For
// each incoming chunk, Transform returns the text that may be forwarded
// now; text inside a not-yet-closed marker is withheld. Flush releases any
// withheld text verbatim at end of stream (a marker that never closed is
// forwarded as the model wrote it rather than dropped).
//
// Invariants:
//
//   - Text outside a marker is never buffered longer than needed to rule
//     out a marker open token split across chunk boundaries.
//   - An opened marker stalls everything after its open token until the
//     close token arrives.
//   - Every completed marker's item list is replaced with the ground-truth
//     list; the model's own payload never reaches the client.
//
// # Thread Safety
//
// Not safe for concurrent use. Each stream owns one rewriter.
type StreamRewriter struct {
	items  []datatypes.CitationItem
	state  rewriterState
	buffer string
}

// NewStreamRewriter creates a rewriter that substitutes the given
// ground-truth citation candidates into every marker it completes.
func NewStreamRewriter(items []datatypes.CitationItem) *StreamRewriter {
	return &StreamRewriter{
		items: items,
		state: statePassthrough,
	}
}

// Transform consumes one chunk and returns the text safe to forward now.
//
// # Inputs
//
//   - chunk: Decoded text from the completion stream; may split a marker
//     token at any byte position.
//
// # Outputs
//
//   - string: Forwardable output. Empty while a marker is incomplete.
func (r *StreamRewriter) Transform(chunk string) string {
	r.buffer += chunk

	var out strings.Builder
	for {
		switch r.state {
		case statePassthrough:
			idx := strings.Index(r.buffer, MarkerOpen)
			if idx >= 0 {
				out.WriteString(r.buffer[:idx])
				r.buffer = r.buffer[idx:]
				r.state = stateAwaitingClose
				continue
			}
			// Hold back a trailing partial open token; forward the rest.
			keep := trailingOpenPrefixLen(r.buffer)
			out.WriteString(r.buffer[:len(r.buffer)-keep])
			r.buffer = r.buffer[len(r.buffer)-keep:]
			return out.String()

		case stateAwaitingClose:
			rest := r.buffer[len(MarkerOpen):]
			cidx := strings.Index(rest, MarkerClose)
			if cidx < 0 {
				return out.String()
			}
			out.WriteString(SerializeMarker(r.items))
			r.buffer = rest[cidx+len(MarkerClose):]
			r.state = statePassthrough
		}
	}
}

// Flush returns any withheld text verbatim and resets the rewriter.
//
// Called once at end of stream. An unterminated marker is released exactly
// as the model produced it.
func (r *StreamRewriter) Flush() string {
	out := r.buffer
	r.buffer = ""
	r.state = statePassthrough
	return out
}

// trailingOpenPrefixLen returns the length of the longest suffix of s that
// is a proper prefix of MarkerOpen. That suffix could become a marker open
// token once the next chunk arrives, so it must not be forwarded yet.
func trailingOpenPrefixLen(s string) int {
	max := len(MarkerOpen) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, MarkerOpen[:n]) {
			return n
		}
	}
	return 0
}
