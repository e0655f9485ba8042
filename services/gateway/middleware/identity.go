// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the chat gateway.
//
// # Identity Flow
//
// The identity middleware derives a stable per-user hashed identifier from
// the ambient session and stores it in the Gin context for downstream
// handlers:
//
//	Request
//	   │
//	   ▼
//	IdentityMiddleware
//	   │
//	   ├─► Read session identity (X-Session-User header)
//	   │
//	   ├─► SHA-256 hash → stable opaque user id
//	   │
//	   └─► Store in context
//	           │
//	           ▼
//	       Handler (retrieves via GetUserID)
//
// The raw identity never reaches handlers or storage; history records and
// logs only carry the hash. Requests without a session identity map to a
// fixed anonymous id so local development works without session
// infrastructure.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gin-gonic/gin"
)

// SessionUserHeader carries the session's user identity, set by the
// fronting web application.
const SessionUserHeader = "X-Session-User"

// AnonymousUser is the fallback identity for requests without a session.
const AnonymousUser = "anonymous"

// userIDKey is the context key for the hashed user id. Typed key string
// prevents collisions with other context values.
const userIDKey = "gateway_user_id"

// HashIdentity derives the stable opaque user id from a raw identity.
func HashIdentity(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SetUserID stores the hashed user id in the Gin context.
func SetUserID(c *gin.Context, userID string) {
	c.Set(userIDKey, userID)
}

// GetUserID retrieves the hashed user id placed by IdentityMiddleware.
// Returns the anonymous hash when the middleware did not run.
func GetUserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return HashIdentity(AnonymousUser)
}

// IdentityMiddleware resolves the request's user identity.
//
// # Description
//
// Reads the session identity header, hashes it, and stores the result for
// handlers. Never rejects a request: a missing identity degrades to the
// anonymous id rather than failing, since history scoping is the only
// consumer.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(SessionUserHeader)
		if raw == "" {
			raw = AnonymousUser
		}
		SetUserID(c, HashIdentity(raw))
		c.Next()
	}
}
