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

	"github.com/spf13/cobra"

	"github.com/matrixsim/matrix-backend/services/backend/graph"
)

func runGraphBuild(cmd *cobra.Command, args []string) {
	path := csvPath
	if path == "" {
		if len(args) == 0 {
			log.Fatalf("Provide a CSV path via --csv or as an argument.")
		}
		path = args[0]
	}

	csvBytes, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read CSV file: %v", err)
	}

	result, err := graph.BuildSocialGraph(string(csvBytes), directed)
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}

	if err := writeJSONFile(outPath, result); err != nil {
		log.Fatalf("Failed to write graph: %v", err)
	}

	fmt.Printf("Built graph with %d agents and %d edges -> %s\n",
		result.Stats.NodeCount, result.Stats.EdgeCount, outPath)
	for _, warning := range result.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
