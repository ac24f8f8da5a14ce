// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/backend/graph"
	"github.com/matrixsim/matrix-backend/services/backend/middleware"
	"github.com/matrixsim/matrix-backend/services/backend/observability"
	"github.com/matrixsim/matrix-backend/services/backend/routes"
	"github.com/matrixsim/matrix-backend/services/backend/simulation"
	"github.com/matrixsim/matrix-backend/services/llm"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "matrix-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("matrix-backend")))
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

// initWeaviate connects to Weaviate when WEAVIATE_SERVICE_URL is set. A
// missing or broken Weaviate only disables agent memory persistence.
func initWeaviate() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Agent memory persistence disabled.")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Agent memory persistence disabled.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	datatypes.EnsureWeaviateSchema(client)
	return client
}

func main() {
	port := os.Getenv("BACKEND_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	weaviateClient := initWeaviate()

	log.Println("Configuring the agent LLM Client")
	var agentLLM llm.LLMClient
	llmBackendType := os.Getenv("LLM_BACKEND_TYPE")
	switch llmBackendType {
	case "openai":
		agentLLM, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "modal":
		agentLLM, err = llm.NewModalClient()
		slog.Info("Using Modal vLLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to modal")
		agentLLM, err = llm.NewModalClient()
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	// The planner may live on a bigger model than the simulation agents.
	plannerModel := os.Getenv("PLANNER_MODEL_ID")
	if plannerModel == "" {
		plannerModel = "deepseek-r1"
	}
	plannerLLM := agentLLM
	if plannerEndpoint := strings.TrimSpace(os.Getenv("PLANNER_MODEL_ENDPOINT")); plannerEndpoint != "" {
		plannerLLM = llm.NewModalClientForEndpoint(plannerEndpoint, plannerModel)
		slog.Info("Using dedicated planner endpoint", "model", plannerModel)
	}

	graphPath := os.Getenv("SIM_GRAPH_PATH")
	if graphPath == "" {
		graphPath = "graph.json"
	}
	graphStore, err := graph.NewStore(graphPath)
	if err != nil {
		log.Fatalf("Failed to initialize graph store: %v", err)
	}
	defer graphStore.Stop()
	if err := graphStore.Watch(context.Background()); err != nil {
		slog.Warn("Graph file watching disabled", "path", graphPath, "error", err)
	}

	var archive *simulation.Archive
	archivePath := os.Getenv("SIM_ARCHIVE_DIR")
	if archivePath == "" {
		archivePath = "data/runs"
	}
	archive, err = simulation.OpenArchive(simulation.DefaultArchiveConfig(archivePath))
	if err != nil {
		slog.Warn("Run archive disabled", "path", archivePath, "error", err)
		archive = nil
	} else {
		defer archive.Close()
	}

	var sink simulation.MemorySink
	if weaviateClient != nil {
		sink = simulation.NewWeaviateSink(weaviateClient)
	}
	runner := simulation.NewRunner(agentLLM, sink, archive)

	router := gin.Default()
	router.Use(otelgin.Middleware("matrix-backend"))
	router.Use(middleware.CORS())

	routes.SetupRoutes(router, routes.Deps{
		GraphStore:   graphStore,
		Runner:       runner,
		Archive:      archive,
		PlannerLLM:   plannerLLM,
		PlannerModel: plannerModel,
	})

	log.Println("Starting the backend server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
