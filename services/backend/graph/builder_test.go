// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
)

const threeAgentCSV = `agent_id,connections,system_prompt,full_name
A,B|C,You are A.,Agent A
B,A,You are B.,Agent B
C,,You are C.,Agent C
`

func nodeByID(t *testing.T, resp *datatypes.GraphBuildResponse, id string) datatypes.GraphNode {
	t.Helper()
	for _, node := range resp.Nodes {
		if node.ID == id {
			return node
		}
	}
	t.Fatalf("node %q not found", id)
	return datatypes.GraphNode{}
}

func TestBuildSocialGraph_Undirected(t *testing.T) {
	resp, err := BuildSocialGraph(threeAgentCSV, false)
	require.NoError(t, err)

	assert.False(t, resp.Directed)
	assert.Equal(t, 3, resp.Stats.NodeCount)
	assert.Equal(t, 2, resp.Stats.EdgeCount)
	assert.Equal(t, 1, resp.Stats.ConnectedComponentCount)
	assert.Equal(t, 0, resp.Stats.IsolatedNodeCount)
	assert.Equal(t, 0, resp.Stats.UnresolvedConnectionCount)

	// A declared B and C; B declared A. Undirected adjacency is symmetric
	// even when only one side declares the edge.
	assert.Equal(t, []string{"B", "C"}, nodeByID(t, resp, "A").Connections)
	assert.Equal(t, []string{"A"}, nodeByID(t, resp, "B").Connections)
	assert.Equal(t, []string{"A"}, nodeByID(t, resp, "C").Connections)

	assert.Equal(t, []datatypes.GraphEdge{
		{Source: "A", Target: "B"},
		{Source: "A", Target: "C"},
	}, resp.Edges)
}

func TestBuildSocialGraph_DirectedKeepsDeclarationDirection(t *testing.T) {
	resp, err := BuildSocialGraph(threeAgentCSV, true)
	require.NoError(t, err)

	assert.True(t, resp.Directed)
	assert.Equal(t, []datatypes.GraphEdge{
		{Source: "A", Target: "B"},
		{Source: "A", Target: "C"},
		{Source: "B", Target: "A"},
	}, resp.Edges)
	// C declared nothing and nothing points out of it.
	assert.Empty(t, nodeByID(t, resp, "C").Connections)
	assert.Equal(t, 1, resp.Stats.IsolatedNodeCount)
}

func TestBuildSocialGraph_BothSidesDeclareCollapsesToOneEdge(t *testing.T) {
	csvText := "agent_id,connections,system_prompt\n" +
		"A,B,p\n" +
		"B,A,p\n"
	resp, err := BuildSocialGraph(csvText, false)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Stats.EdgeCount)
	assert.Equal(t, []datatypes.GraphEdge{{Source: "A", Target: "B"}}, resp.Edges)
}

func TestBuildSocialGraph_SelfConnectionWarnsAndNeverBecomesEdge(t *testing.T) {
	csvText := "agent_id,connections,system_prompt\n" +
		"A,A|B,p\n" +
		"B,,p\n"
	resp, err := BuildSocialGraph(csvText, false)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Stats.EdgeCount)
	assert.Contains(t, resp.Warnings, "Self-connection ignored for agent_id 'A'.")
	for _, edge := range resp.Edges {
		assert.NotEqual(t, edge.Source, edge.Target)
	}
}

func TestBuildSocialGraph_UnresolvedConnectionWarns(t *testing.T) {
	csvText := "agent_id,connections,system_prompt\n" +
		"A,ghost,p\n"
	resp, err := BuildSocialGraph(csvText, false)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Stats.EdgeCount)
	assert.Equal(t, 1, resp.Stats.UnresolvedConnectionCount)
	assert.Contains(t, resp.Warnings, "Unresolved connection ignored: 'A' -> 'ghost'.")
	// The declared list still records what the row said.
	assert.Equal(t, []string{"ghost"}, nodeByID(t, resp, "A").DeclaredConnections)
}

func TestBuildSocialGraph_DisconnectedGraphWarns(t *testing.T) {
	csvText := "agent_id,connections,system_prompt\n" +
		"A,B,p\n" +
		"B,,p\n" +
		"C,D,p\n" +
		"D,,p\n" +
		"E,,p\n"
	resp, err := BuildSocialGraph(csvText, false)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Stats.ConnectedComponentCount)
	assert.Contains(t, resp.Warnings, "Graph is disconnected: found 3 connected components.")
	assert.Equal(t, 1, resp.Stats.IsolatedNodeCount)
}

func TestBuildSocialGraph_DuplicateAgentIDsRejectedTogether(t *testing.T) {
	csvText := "agent_id,connections,system_prompt\n" +
		"B,,p\n" +
		"A,,p\n" +
		"B,,p\n" +
		"A,,p\n"
	_, err := BuildSocialGraph(csvText, false)
	require.Error(t, err)
	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr))
	assert.EqualError(t, err, "Duplicate agent_id values detected: A, B.")
}

func TestBuildSocialGraph_MissingAgentIDReportsRowNumber(t *testing.T) {
	csvText := "agent_id,connections,system_prompt\n" +
		"A,,p\n" +
		",B,p\n"
	_, err := BuildSocialGraph(csvText, false)
	require.Error(t, err)
	assert.EqualError(t, err, "Row 3 is missing agent_id.")
}

func TestBuildSocialGraph_MissingRequiredColumns(t *testing.T) {
	_, err := BuildSocialGraph("agent_id,full_name\nA,Agent A\n", false)
	require.Error(t, err)
	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr))
	assert.Contains(t, err.Error(), "connections")
	assert.Contains(t, err.Error(), "system_prompt")
}

func TestBuildSocialGraph_EmptyInputs(t *testing.T) {
	_, err := BuildSocialGraph("", false)
	assert.EqualError(t, err, "CSV is missing a header row.")

	_, err = BuildSocialGraph("agent_id,connections,system_prompt\n", false)
	assert.EqualError(t, err, "CSV has no data rows.")
}

func TestBuildSocialGraph_SkipsBlankAndReinjectedHeaderRows(t *testing.T) {
	csvText := "agent_id,connections,system_prompt\n" +
		"A,,p\n" +
		",,\n" +
		"agent_id,connections,system_prompt\n" +
		"B,A,p\n"
	resp, err := BuildSocialGraph(csvText, false)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Stats.NodeCount)
	assert.Equal(t, 1, resp.Stats.EdgeCount)
}

func TestBuildSocialGraph_UnnamedIndexColumnDoesNotShiftCells(t *testing.T) {
	// A pandas to_csv export keeps the frame index as a leading unnamed
	// column. Cells must still be read under their own headers.
	csvText := ",agent_id,connections,system_prompt\n" +
		"0,A,B,You are A.\n" +
		"1,B,A,You are B.\n"
	resp, err := BuildSocialGraph(csvText, false)
	require.NoError(t, err)

	require.Equal(t, 2, resp.Stats.NodeCount)
	nodeA := nodeByID(t, resp, "A")
	assert.Equal(t, []string{"B"}, nodeA.Connections)
	assert.Equal(t, "You are A.", nodeA.Metadata["system_prompt"])
	assert.Equal(t, []string{"A"}, nodeByID(t, resp, "B").Connections)
}

func TestBuildSocialGraph_MetadataPreservesExtraColumns(t *testing.T) {
	resp, err := BuildSocialGraph(threeAgentCSV, false)
	require.NoError(t, err)
	nodeA := nodeByID(t, resp, "A")
	assert.Equal(t, "Agent A", nodeA.Metadata["full_name"])
	assert.Equal(t, "You are A.", nodeA.Metadata["system_prompt"])
}

func TestParseConnections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "   ", want: nil},
		{name: "pipe separated", raw: "A|B|C", want: []string{"A", "B", "C"}},
		{name: "mixed separators", raw: "A;B,C|D", want: []string{"A", "B", "C", "D"}},
		{name: "dedup keeps first seen", raw: "B|A|B", want: []string{"B", "A"}},
		{name: "trims and drops empties", raw: " A |  | B ", want: []string{"A", "B"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseConnections(tc.raw))
		})
	}
}
