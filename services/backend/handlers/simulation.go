// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/backend/graph"
	"github.com/matrixsim/matrix-backend/services/backend/observability"
	"github.com/matrixsim/matrix-backend/services/backend/simulation"
)

// RunSimulation starts a background run. The request may carry an inline
// graph; otherwise the current graph store snapshot is used. While a run is
// in flight the endpoint answers {"status": "already_running"} instead of
// starting another.
func RunSimulation(runner *simulation.Runner, store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SimulationRunRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
				return
			}
		}

		graphData, err := resolveRunGraph(&req, store)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		runID, err := runner.Start(&req, graphData)
		if errors.Is(err, simulation.ErrAlreadyRunning) {
			observability.RecordSimulationRun(req.Mode, "rejected")
			c.JSON(http.StatusOK, gin.H{"status": "already_running"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "started", "run_id": runID})
	}
}

// resolveRunGraph prefers the inline graph from the request body and falls
// back to the store.
func resolveRunGraph(req *datatypes.SimulationRunRequest, store *graph.Store) (*datatypes.GraphBuildResponse, error) {
	if len(req.Nodes) > 0 {
		return &datatypes.GraphBuildResponse{
			Nodes: req.Nodes,
			Edges: req.Edges,
		}, nil
	}
	if store == nil {
		return nil, errors.New("no graph data in request and no graph store configured")
	}
	snap, err := store.Snapshot()
	if err != nil {
		return nil, errors.New("no graph data in request and no stored graph available")
	}
	return snap, nil
}

// SimulationStatus returns the pollable state of the current run.
func SimulationStatus(runner *simulation.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, runner.Status())
	}
}

// SimulationResults returns per-agent histories once the run is done.
// Answers 425 Too Early while the run is idle, running, or failed.
func SimulationResults(runner *simulation.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := runner.Results()
		if err != nil {
			c.JSON(http.StatusTooEarly, gin.H{"error": "Simulation not complete yet."})
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

// ListSimulationRuns lists archived runs, newest first.
func ListSimulationRuns(archive *simulation.Archive) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries, err := archive.List()
		if err != nil {
			slog.Error("Failed to list archived runs", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list archived runs."})
			return
		}
		if summaries == nil {
			summaries = []datatypes.SimulationRunSummary{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": summaries})
	}
}

// GetSimulationRun returns one archived run with full results.
func GetSimulationRun(archive *simulation.Archive) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		record, err := archive.Get(runID)
		if errors.Is(err, simulation.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown run_id: " + runID})
			return
		}
		if err != nil {
			slog.Error("Failed to load archived run", "runId", runID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load archived run."})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}
