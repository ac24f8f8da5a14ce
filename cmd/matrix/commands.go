// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	csvPath     string
	directed    bool
	outPath     string
	graphPath   string
	stimulus    string
	seedIDs     []string
	simDays     int
	maxDepth    int
	backendType string
	archivePath string

	rootCmd = &cobra.Command{
		Use:   "matrix",
		Short: "A cli to build social graphs and run agent simulations offline",
		Long: `Matrix builds agent social graphs from master CSVs and runs
				LLM-driven conversation simulations without the backend server.`,
	}

	// --- Graph ---
	graphCmd = &cobra.Command{
		Use:   "graph",
		Short: "Build and inspect agent social graphs",
	}
	graphBuildCmd = &cobra.Command{
		Use:   "build [csv path]",
		Short: "Builds a social graph from a master CSV and writes it as JSON",
		Run:   runGraphBuild, // Defined in cmd_graph.go
	}

	// --- Simulate ---
	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Run a conversation simulation against a built graph",
	}
	simulateRoundsCmd = &cobra.Command{
		Use:   "rounds",
		Short: "Runs a multi-day round-based simulation over the whole graph",
		Run:   runSimulateRounds, // Defined in cmd_simulate.go
	}
	simulateCascadeCmd = &cobra.Command{
		Use:   "cascade",
		Short: "Runs a breadth-first message cascade from seed agents",
		Run:   runSimulateCascade, // Defined in cmd_simulate.go
	}

	// --- Runs ---
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "List archived simulation runs",
		Run:   runListRuns, // Defined in cmd_simulate.go
	}
)

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphBuildCmd)
	graphBuildCmd.Flags().StringVar(&csvPath, "csv", "", "Path to the master CSV (falls back to the positional argument)")
	graphBuildCmd.Flags().BoolVar(&directed, "directed", false, "Treat connections as one-way edges")
	graphBuildCmd.Flags().StringVar(&outPath, "out", "graph.json", "Where to write the built graph")

	rootCmd.AddCommand(simulateCmd)
	simulateCmd.PersistentFlags().StringVar(&graphPath, "graph", "graph.json", "Path to a previously built graph JSON")
	simulateCmd.PersistentFlags().StringVar(&stimulus, "stimulus", "", "News stimulus delivered to seed agents (default: built-in headline)")
	simulateCmd.PersistentFlags().StringSliceVar(&seedIDs, "seeds", nil, "Agent ids to seed (default: random sample)")
	simulateCmd.PersistentFlags().StringVar(&outPath, "out", "simulation_log.json", "Where to write the simulation results")
	simulateCmd.PersistentFlags().StringVar(&backendType, "backend", "", "LLM backend (modal, openai); overrides LLM_BACKEND_TYPE")
	simulateCmd.AddCommand(simulateRoundsCmd)
	simulateRoundsCmd.Flags().IntVar(&simDays, "days", 0, "Number of simulated days (default 5)")
	simulateCmd.AddCommand(simulateCascadeCmd)
	simulateCascadeCmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum hop distance from a seed (default 3)")

	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringVar(&archivePath, "archive", "data/runs", "Path to the run archive database")
}
