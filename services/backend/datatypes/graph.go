// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// GraphBuildRequest is the JSON body of POST /api/graph/from-csv-text.
type GraphBuildRequest struct {
	CSVText  string `json:"csv_text" binding:"required,min=1"`
	Directed bool   `json:"directed"`
}

// GraphNode is one agent in the validated social graph.
//
// Metadata preserves every CSV column verbatim (trimmed), including the
// system_prompt that drives generation. Connections is the resolved,
// deduplicated, sorted adjacency; DeclaredConnections is what the row
// actually declared, in first-seen order, before validation.
type GraphNode struct {
	ID                  string            `json:"id"`
	Metadata            map[string]string `json:"metadata"`
	Connections         []string          `json:"connections"`
	DeclaredConnections []string          `json:"declared_connections"`
}

type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type GraphStats struct {
	NodeCount                 int `json:"node_count"`
	EdgeCount                 int `json:"edge_count"`
	IsolatedNodeCount         int `json:"isolated_node_count"`
	UnresolvedConnectionCount int `json:"unresolved_connection_count"`
	ConnectedComponentCount   int `json:"connected_component_count"`
}

// GraphBuildResponse is the full build result. Warnings carry the non-fatal
// structural findings (self-loops, unresolved references, disconnection).
type GraphBuildResponse struct {
	Directed bool        `json:"directed"`
	Nodes    []GraphNode `json:"nodes"`
	Edges    []GraphEdge `json:"edges"`
	Stats    GraphStats  `json:"stats"`
	Warnings []string    `json:"warnings"`
}
