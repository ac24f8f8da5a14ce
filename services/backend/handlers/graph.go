// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/backend/graph"
	"github.com/matrixsim/matrix-backend/services/backend/observability"
)

// BuildGraphFromCSVText builds a social graph from inline CSV text and
// publishes it to the store as the current graph.
func BuildGraphFromCSVText(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.GraphBuildRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		resp, err := buildAndPublish(store, req.CSVText, req.Directed)
		if err != nil {
			writeGraphBuildError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// BuildGraphFromCSVFile accepts a multipart upload under the "file" field.
// The optional "directed" query parameter works like the JSON flag.
func BuildGraphFromCSVFile(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing uploaded file: " + err.Error()})
			return
		}
		if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".csv") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file must be a .csv file."})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open uploaded file: " + err.Error()})
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file: " + err.Error()})
			return
		}
		if !utf8.Valid(content) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "CSV file must be UTF-8 encoded."})
			return
		}

		directed := c.Query("directed") == "true"
		resp, err := buildAndPublish(store, string(content), directed)
		if err != nil {
			writeGraphBuildError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetCurrentGraph returns the graph most recently built or loaded from disk.
func GetCurrentGraph(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := store.Snapshot()
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func buildAndPublish(store *graph.Store, csvText string, directed bool) (*datatypes.GraphBuildResponse, error) {
	resp, err := graph.BuildSocialGraph(csvText, directed)
	if err != nil {
		observability.RecordGraphBuild("validation_error")
		return nil, err
	}
	observability.RecordGraphBuild("success")

	if store != nil {
		if err := store.Set(resp); err != nil {
			// The build succeeded; a persistence hiccup shouldn't fail the
			// response.
			slog.Error("Failed to persist built graph", "error", err)
		}
	}

	slog.Info("Social graph built",
		"nodes", resp.Stats.NodeCount,
		"edges", resp.Stats.EdgeCount,
		"components", resp.Stats.ConnectedComponentCount,
		"warnings", len(resp.Warnings))
	return resp, nil
}

func writeGraphBuildError(c *gin.Context, err error) {
	var validationErr *graph.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slog.Error("Graph build failed unexpectedly", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Graph build failed."})
}
