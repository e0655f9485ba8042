// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/AleutianAI/chatgateway/pkg/logging"
	"github.com/AleutianAI/chatgateway/services/gateway/config"
	"github.com/AleutianAI/chatgateway/services/gateway/handlers"
	"github.com/AleutianAI/chatgateway/services/gateway/history"
	"github.com/AleutianAI/chatgateway/services/gateway/observability"
	"github.com/AleutianAI/chatgateway/services/gateway/prompt"
	"github.com/AleutianAI/chatgateway/services/gateway/retrieval"
	"github.com/AleutianAI/chatgateway/services/gateway/routes"
	"github.com/AleutianAI/chatgateway/services/gateway/search"
	"github.com/AleutianAI/chatgateway/services/llm"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chat-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient parses WEAVIATE_SERVICE_URL and connects. The history
// store and document retrieval both require it; there is no degraded mode.
func newWeaviateClient() (*weaviate.Client, error) {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" {
		return nil, errors.New("WEAVIATE_SERVICE_URL is not set")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("WEAVIATE_SERVICE_URL is not a valid URL: " + weaviateURL)
	}

	return weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
}

func main() {
	port := os.Getenv("GATEWAY_PORT")
	if port == "" {
		port = "12230"
	}

	logger, err := logging.Setup(logging.Config{
		Service: "chat-gateway",
		Level:   logging.ParseLevel(os.Getenv("GATEWAY_LOG_LEVEL")),
		LogDir:  os.Getenv("GATEWAY_LOG_DIR"),
	})
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logger.Close()

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	cfg := config.Load()

	weaviateClient, err := newWeaviateClient()
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := history.EnsureSchema(schemaCtx, weaviateClient); err != nil {
		cancelSchema()
		log.Fatalf("Failed to ensure history schema: %v", err)
	}
	cancelSchema()

	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	metrics := observability.InitMetrics()

	collector := search.NewCollector(
		search.NewClient(cfg.SearchAPIURL, cfg.SearchAPIKey),
		search.NewGoqueryFetcher(cfg.Location),
		cfg.SearchResultCount,
		metrics,
	)

	chatHandler := handlers.NewChatStreamHandler(
		llmClient,
		history.NewWeaviateStore(weaviateClient),
		collector,
		retrieval.NewSelector(weaviateClient),
		prompt.NewBuilder(cfg.AssistantName, cfg.Location),
		cfg,
	)

	router := gin.Default()
	router.Use(otelgin.Middleware("chat-gateway"))
	routes.SetupRoutes(router, chatHandler)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting the chat gateway server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting requests, drain in-flight streams,
	// then wipe any mlocked answer buffers before exit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("Shutting down the chat gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	handlers.PurgeAllSecureMemory()
}
