// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/backend/graph"
)

func TestWriteJSONFileRoundTrip(t *testing.T) {
	csvText := "agent_id,connections,system_prompt\nA,B,prompt a\nB,A,prompt b\n"
	built, err := graph.BuildSocialGraph(csvText, false)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, writeJSONFile(path, built))

	loaded, err := loadGraph(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 2)
	assert.Equal(t, built.Stats.EdgeCount, loaded.Stats.EdgeCount)
}

func TestLoadGraphRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	empty := datatypes.GraphBuildResponse{}
	require.NoError(t, writeJSONFile(path, empty))

	_, err := loadGraph(path)
	assert.Error(t, err)
}

func TestLoadGraphRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := loadGraph(path)
	assert.Error(t, err)
}
