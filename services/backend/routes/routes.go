// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matrixsim/matrix-backend/services/backend/graph"
	"github.com/matrixsim/matrix-backend/services/backend/handlers"
	"github.com/matrixsim/matrix-backend/services/backend/simulation"
	"github.com/matrixsim/matrix-backend/services/llm"
)

// Deps carries the service singletons the handlers close over.
type Deps struct {
	GraphStore   *graph.Store
	Runner       *simulation.Runner
	Archive      *simulation.Archive
	PlannerLLM   llm.LLMClient
	PlannerModel string
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		graphGroup := api.Group("/graph")
		{
			graphGroup.GET("", handlers.GetCurrentGraph(deps.GraphStore))
			graphGroup.POST("/from-csv-text", handlers.BuildGraphFromCSVText(deps.GraphStore))
			graphGroup.POST("/from-csv-file", handlers.BuildGraphFromCSVFile(deps.GraphStore))
		}

		api.POST("/planner/context", handlers.HandlePlannerContext(deps.PlannerLLM, deps.PlannerModel))

		simGroup := api.Group("/simulation")
		{
			simGroup.POST("/run", handlers.RunSimulation(deps.Runner, deps.GraphStore))
			simGroup.GET("/status", handlers.SimulationStatus(deps.Runner))
			simGroup.GET("/results", handlers.SimulationResults(deps.Runner))
			simGroup.GET("/watch", handlers.WatchSimulation(deps.Runner))
			if deps.Archive != nil {
				simGroup.GET("/runs", handlers.ListSimulationRuns(deps.Archive))
				simGroup.GET("/runs/:runId", handlers.GetSimulationRun(deps.Archive))
			}
		}
	}
}
