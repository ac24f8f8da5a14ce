// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph turns loosely formatted agent CSVs into a validated,
// deduplicated social graph.
//
// The CSV contract: a header row naming at least agent_id, connections and
// system_prompt; one row per agent; the connections cell is a |, ; or ,
// separated list of other agent_ids. Every other column is preserved
// verbatim as node metadata. Blank rows and accidentally re-pasted header
// rows are skipped. Structural problems that don't invalidate the build
// (self-loops, references to unknown agents, a disconnected graph) are
// reported as warnings alongside the result; malformed shape (missing
// columns, missing or duplicate agent_ids) fails the build with a
// ValidationError.
package graph

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
)

// RequiredColumns must all be present in the CSV header.
var RequiredColumns = []string{"agent_id", "connections", "system_prompt"}

// ValidationError marks a fatal problem with the input CSV. Handlers map it
// to a 400; anything else is a server fault.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func isConnectionSeparator(r rune) bool {
	return r == '|' || r == ';' || r == ','
}

// ParseConnections splits a raw connections cell into a deduplicated list,
// preserving first-seen order. Empty tokens are dropped.
func ParseConnections(rawConnections string) []string {
	raw := strings.TrimSpace(rawConnections)
	if raw == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var parsed []string
	for _, item := range strings.FieldsFunc(raw, isConnectionSeparator) {
		candidate := strings.TrimSpace(item)
		if candidate == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		parsed = append(parsed, candidate)
	}
	return parsed
}

// parseCSVRows reads the CSV into normalized row maps keyed by the header
// fieldnames. Cells are trimmed; blank rows and re-injected header rows are
// discarded before validation.
func parseCSVRows(csvText string) ([]string, []map[string]string, error) {
	reader := csv.NewReader(strings.NewReader(csvText))
	reader.FieldsPerRecord = -1 // rows may be ragged; missing cells become ""

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, validationErrorf("CSV is malformed: %v.", err)
	}
	if len(records) == 0 {
		return nil, nil, validationErrorf("CSV is missing a header row.")
	}

	// Unnamed header cells (a pandas index export leaves a blank first
	// column) are dropped, but every kept column reads its cells at the
	// original position so the remaining data does not shift.
	type headerColumn struct {
		name  string
		index int
	}
	var columns []headerColumn
	var fieldnames []string
	for i, name := range records[0] {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			columns = append(columns, headerColumn{name: trimmed, index: i})
			fieldnames = append(fieldnames, trimmed)
		}
	}
	if len(fieldnames) == 0 {
		return nil, nil, validationErrorf("CSV is missing a header row.")
	}

	known := make(map[string]struct{}, len(fieldnames))
	for _, name := range fieldnames {
		known[name] = struct{}{}
	}
	var missing []string
	for _, required := range RequiredColumns {
		if _, ok := known[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, nil, validationErrorf("CSV is missing required column(s): %s.",
			strings.Join(missing, ", "))
	}

	var rows []map[string]string
	for recordIdx, record := range records[1:] {
		lineIndex := recordIdx + 2

		normalized := make(map[string]string, len(columns))
		blank := true
		for _, col := range columns {
			value := ""
			if col.index < len(record) {
				value = strings.TrimSpace(record[col.index])
			}
			normalized[col.name] = value
			if value != "" {
				blank = false
			}
		}
		if blank || isReinjectedHeader(normalized, fieldnames) {
			continue
		}

		if normalized["agent_id"] == "" {
			return nil, nil, validationErrorf("Row %d is missing agent_id.", lineIndex)
		}
		rows = append(rows, normalized)
	}

	if len(rows) == 0 {
		return nil, nil, validationErrorf("CSV has no data rows.")
	}
	return fieldnames, rows, nil
}

// isReinjectedHeader catches rows that are a pasted-in copy of the header
// (a common artifact of concatenating generated CSVs).
func isReinjectedHeader(row map[string]string, fieldnames []string) bool {
	for _, field := range fieldnames {
		if row[field] != field {
			return false
		}
	}
	return true
}

// BuildSocialGraph parses csvText into a validated social graph.
//
// Edges are deduplicated on a canonical key ((source,target) verbatim when
// directed, the sorted pair otherwise), self-loops and unresolved references
// are dropped with warnings, and the connected-component count is computed
// over the undirected view regardless of directedness. Nodes come back in
// original row order with sorted adjacency; edges sorted by (source, target).
func BuildSocialGraph(csvText string, directed bool) (*datatypes.GraphBuildResponse, error) {
	_, rows, err := parseCSVRows(csvText)
	if err != nil {
		return nil, err
	}

	rowsByAgentID := make(map[string]map[string]string, len(rows))
	var orderedAgentIDs []string
	var duplicateIDs []string
	var warnings []string

	for _, row := range rows {
		agentID := row["agent_id"]
		if _, exists := rowsByAgentID[agentID]; exists {
			duplicateIDs = append(duplicateIDs, agentID)
			continue
		}
		rowsByAgentID[agentID] = row
		orderedAgentIDs = append(orderedAgentIDs, agentID)
	}

	if len(duplicateIDs) > 0 {
		unique := make(map[string]struct{}, len(duplicateIDs))
		for _, id := range duplicateIDs {
			unique[id] = struct{}{}
		}
		display := make([]string, 0, len(unique))
		for id := range unique {
			display = append(display, id)
		}
		sort.Strings(display)
		return nil, validationErrorf("Duplicate agent_id values detected: %s.",
			strings.Join(display, ", "))
	}

	adjacency := make(map[string]map[string]struct{}, len(orderedAgentIDs))
	for _, agentID := range orderedAgentIDs {
		adjacency[agentID] = make(map[string]struct{})
	}
	declaredConnectionsMap := make(map[string][]string, len(orderedAgentIDs))
	edgeSet := make(map[datatypes.GraphEdge]struct{})
	unresolvedCount := 0

	for _, sourceAgentID := range orderedAgentIDs {
		row := rowsByAgentID[sourceAgentID]
		declaredConnections := ParseConnections(row["connections"])
		declaredConnectionsMap[sourceAgentID] = declaredConnections

		for _, targetAgentID := range declaredConnections {
			if targetAgentID == sourceAgentID {
				warnings = append(warnings,
					fmt.Sprintf("Self-connection ignored for agent_id '%s'.", sourceAgentID))
				continue
			}

			if _, known := rowsByAgentID[targetAgentID]; !known {
				unresolvedCount++
				warnings = append(warnings,
					fmt.Sprintf("Unresolved connection ignored: '%s' -> '%s'.",
						sourceAgentID, targetAgentID))
				continue
			}

			if directed {
				edgeKey := datatypes.GraphEdge{Source: sourceAgentID, Target: targetAgentID}
				if _, dup := edgeSet[edgeKey]; dup {
					continue
				}
				edgeSet[edgeKey] = struct{}{}
				adjacency[sourceAgentID][targetAgentID] = struct{}{}
			} else {
				left, right := sourceAgentID, targetAgentID
				if right < left {
					left, right = right, left
				}
				edgeKey := datatypes.GraphEdge{Source: left, Target: right}
				if _, dup := edgeSet[edgeKey]; dup {
					continue
				}
				edgeSet[edgeKey] = struct{}{}
				adjacency[sourceAgentID][targetAgentID] = struct{}{}
				adjacency[targetAgentID][sourceAgentID] = struct{}{}
			}
		}
	}

	edgeList := make([]datatypes.GraphEdge, 0, len(edgeSet))
	for edge := range edgeSet {
		edgeList = append(edgeList, edge)
	}
	sort.Slice(edgeList, func(i, j int) bool {
		if edgeList[i].Source != edgeList[j].Source {
			return edgeList[i].Source < edgeList[j].Source
		}
		return edgeList[i].Target < edgeList[j].Target
	})

	connectedComponents := countComponents(orderedAgentIDs, edgeList)
	if connectedComponents > 1 {
		warnings = append(warnings,
			fmt.Sprintf("Graph is disconnected: found %d connected components.",
				connectedComponents))
	}

	nodeList := make([]datatypes.GraphNode, 0, len(orderedAgentIDs))
	isolatedCount := 0
	for _, agentID := range orderedAgentIDs {
		connections := make([]string, 0, len(adjacency[agentID]))
		for neighbor := range adjacency[agentID] {
			connections = append(connections, neighbor)
		}
		sort.Strings(connections)
		if len(connections) == 0 {
			isolatedCount++
		}
		nodeList = append(nodeList, datatypes.GraphNode{
			ID:                  agentID,
			Metadata:            rowsByAgentID[agentID],
			Connections:         connections,
			DeclaredConnections: declaredConnectionsMap[agentID],
		})
	}

	return &datatypes.GraphBuildResponse{
		Directed: directed,
		Nodes:    nodeList,
		Edges:    edgeList,
		Stats: datatypes.GraphStats{
			NodeCount:                 len(nodeList),
			EdgeCount:                 len(edgeList),
			IsolatedNodeCount:         isolatedCount,
			UnresolvedConnectionCount: unresolvedCount,
			ConnectedComponentCount:   connectedComponents,
		},
		Warnings: warnings,
	}, nil
}

// countComponents runs an iterative DFS over the undirected view of the
// edges. Directedness is ignored on purpose: the count measures overall
// reachability, not flow.
func countComponents(agentIDs []string, edges []datatypes.GraphEdge) int {
	undirected := make(map[string][]string, len(agentIDs))
	for _, edge := range edges {
		undirected[edge.Source] = append(undirected[edge.Source], edge.Target)
		undirected[edge.Target] = append(undirected[edge.Target], edge.Source)
	}

	visited := make(map[string]struct{}, len(agentIDs))
	components := 0
	for _, agentID := range agentIDs {
		if _, done := visited[agentID]; done {
			continue
		}
		components++
		stack := []string{agentID}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := visited[current]; done {
				continue
			}
			visited[current] = struct{}{}
			for _, neighbor := range undirected[current] {
				if _, done := visited[neighbor]; !done {
					stack = append(stack, neighbor)
				}
			}
		}
	}
	return components
}
