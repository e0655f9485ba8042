// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doIdentityRequest(t *testing.T, header string) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var captured string
	router := gin.New()
	router.Use(IdentityMiddleware())
	router.GET("/probe", func(c *gin.Context) {
		captured = GetUserID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if header != "" {
		req.Header.Set(SessionUserHeader, header)
	}
	router.ServeHTTP(httptest.NewRecorder(), req)
	return captured
}

func TestIdentityMiddleware_StableHash(t *testing.T) {
	first := doIdentityRequest(t, "alice@example.com")
	second := doIdentityRequest(t, "alice@example.com")

	require.NotEmpty(t, first)
	assert.Equal(t, first, second, "same identity must hash identically")
	assert.NotContains(t, first, "alice", "raw identity must not leak")
	assert.Len(t, first, 64)
}

func TestIdentityMiddleware_DistinctUsers(t *testing.T) {
	a := doIdentityRequest(t, "alice@example.com")
	b := doIdentityRequest(t, "bob@example.com")

	assert.NotEqual(t, a, b)
}

func TestIdentityMiddleware_AnonymousFallback(t *testing.T) {
	got := doIdentityRequest(t, "")

	assert.Equal(t, HashIdentity(AnonymousUser), got)
}

func TestGetUserID_WithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Equal(t, HashIdentity(AnonymousUser), GetUserID(c))
}
