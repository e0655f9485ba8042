// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/chatgateway/services/gateway/handlers"
	"github.com/AleutianAI/chatgateway/services/gateway/middleware"
)

// SetupRoutes registers all gateway endpoints on the router.
//
// The three chat variants share one request shape and SSE contract; they
// differ only in the evidence pipeline behind them. Identity resolution
// runs on the chat group only, so probes and scrapes stay anonymous.
func SetupRoutes(router *gin.Engine, chatHandler handlers.ChatStreamHandler) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.IdentityMiddleware())
	{
		chat := v1.Group("/chat")
		{
			chat.POST("/simple/stream", chatHandler.HandleSimpleChatStream)
			chat.POST("/web/stream", chatHandler.HandleWebChatStream)
			chat.POST("/doc/stream", chatHandler.HandleDocChatStream)
		}
	}
}
