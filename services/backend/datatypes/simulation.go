// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Simulation run states.
const (
	SimStateIdle    = "idle"
	SimStateRunning = "running"
	SimStateDone    = "done"
	SimStateError   = "error"
)

// Propagation strategies.
const (
	SimModeRounds  = "rounds"
	SimModeCascade = "cascade"
)

// SimulationRunRequest is the JSON body of POST /api/simulation/run.
//
// Nodes/Edges are optional: when absent the service falls back to the
// graph store (graph.json on disk). Mode defaults to "rounds".
type SimulationRunRequest struct {
	Nodes    []GraphNode `json:"nodes,omitempty"`
	Edges    []GraphEdge `json:"edges,omitempty"`
	Stimulus string      `json:"stimulus,omitempty"`
	Mode     string      `json:"mode,omitempty" binding:"omitempty,oneof=rounds cascade"`
	Days     int         `json:"days,omitempty" binding:"omitempty,min=1,max=30"`
	Seeds    []string    `json:"seeds,omitempty"`
	MaxDepth int         `json:"max_depth,omitempty" binding:"omitempty,min=1,max=20"`
}

// SimulationStatus is the pollable state of the single in-flight run.
// Day is the round (or BFS depth) currently in flight.
type SimulationStatus struct {
	RunID    string `json:"run_id,omitempty"`
	Mode     string `json:"mode,omitempty"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Total    int    `json:"total"`
	Day      int    `json:"day"`
	Error    string `json:"error"`
}

// DayEntry is one agent's output for one round (or one BFS depth).
// TalkedTo holds the full names of the agents whose prior messages fed
// this turn; empty on the stimulus turn.
type DayEntry struct {
	Day      int      `json:"day"`
	Content  string   `json:"content"`
	TalkedTo []string `json:"talked_to"`
}

// AgentResult is the complete per-agent history of a finished run.
type AgentResult struct {
	AgentID  string     `json:"agent_id"`
	FullName string     `json:"full_name"`
	Days     []DayEntry `json:"days"`
	Initial  string     `json:"initial"`
	Final    string     `json:"final"`
}

// SimulationResults maps agent id to its history. Only readable once the
// run state is done.
type SimulationResults map[string]AgentResult

// SimulationRunRecord is an archived, completed run.
type SimulationRunRecord struct {
	RunID      string            `json:"run_id"`
	Mode       string            `json:"mode"`
	Stimulus   string            `json:"stimulus"`
	AgentCount int               `json:"agent_count"`
	StartedAt  int64             `json:"started_at"`
	FinishedAt int64             `json:"finished_at"`
	Status     SimulationStatus  `json:"status"`
	Results    SimulationResults `json:"results"`
}

// SimulationRunSummary is the listing shape for GET /api/simulation/runs.
type SimulationRunSummary struct {
	RunID      string `json:"run_id"`
	Mode       string `json:"mode"`
	Stimulus   string `json:"stimulus"`
	AgentCount int    `json:"agent_count"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
	State      string `json:"state"`
}
