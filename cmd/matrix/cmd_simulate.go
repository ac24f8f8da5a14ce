// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/backend/simulation"
	"github.com/matrixsim/matrix-backend/services/llm"
)

func runSimulateRounds(cmd *cobra.Command, args []string) {
	runSimulation(&datatypes.SimulationRunRequest{
		Mode:     "rounds",
		Stimulus: stimulus,
		Days:     simDays,
		Seeds:    seedIDs,
	})
}

func runSimulateCascade(cmd *cobra.Command, args []string) {
	runSimulation(&datatypes.SimulationRunRequest{
		Mode:     "cascade",
		Stimulus: stimulus,
		Seeds:    seedIDs,
		MaxDepth: maxDepth,
	})
}

func runSimulation(req *datatypes.SimulationRunRequest) {
	graphData, err := loadGraph(graphPath)
	if err != nil {
		log.Fatalf("Failed to load graph: %v", err)
	}

	client, err := newLLMClient()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	runner := simulation.NewRunner(client, nil, nil)
	runID, err := runner.Start(req, graphData)
	if err != nil {
		log.Fatalf("Failed to start simulation: %v", err)
	}
	fmt.Printf("Started %s run %s over %d agents\n", req.Mode, runID, len(graphData.Nodes))

	updates, cancel := runner.Subscribe()
	defer cancel()
	lastDay := -1
	for status := range updates {
		if status.Day != lastDay {
			lastDay = status.Day
			fmt.Printf("day %d: %d/%d agents\n", status.Day, status.Progress, status.Total)
		}
		if status.State != datatypes.SimStateRunning {
			break
		}
	}

	// The subscriber channel drains before the final state lands in Status.
	status := waitForTerminalState(runner)
	if status.State == datatypes.SimStateError {
		log.Fatalf("Simulation failed: %s", status.Error)
	}

	results, err := runner.Results()
	if err != nil {
		log.Fatalf("Failed to fetch results: %v", err)
	}
	if err := writeJSONFile(outPath, results); err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}
	fmt.Printf("Wrote results for %d agents -> %s\n", len(results), outPath)
}

func waitForTerminalState(runner *simulation.Runner) datatypes.SimulationStatus {
	for {
		status := runner.Status()
		if status.State != datatypes.SimStateRunning {
			return status
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func runListRuns(cmd *cobra.Command, args []string) {
	archive, err := simulation.OpenArchive(simulation.DefaultArchiveConfig(archivePath))
	if err != nil {
		log.Fatalf("Failed to open run archive: %v", err)
	}
	defer archive.Close()

	runs, err := archive.List()
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No archived runs.")
		return
	}
	for _, run := range runs {
		started := time.Unix(run.StartedAt, 0).Format(time.RFC3339)
		fmt.Printf("%s  %-8s %-6s %4d agents  %s\n",
			run.RunID, run.Mode, run.State, run.AgentCount, started)
	}
}

func loadGraph(path string) (*datatypes.GraphBuildResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var graphData datatypes.GraphBuildResponse
	if err := json.Unmarshal(data, &graphData); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(graphData.Nodes) == 0 {
		return nil, fmt.Errorf("%s contains no agents", path)
	}
	return &graphData, nil
}

func newLLMClient() (llm.LLMClient, error) {
	backend := backendType
	if backend == "" {
		backend = os.Getenv("LLM_BACKEND_TYPE")
	}
	if backend == "openai" {
		return llm.NewOpenAIClient()
	}
	return llm.NewModalClient()
}
