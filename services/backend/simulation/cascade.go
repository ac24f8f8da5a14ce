// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package simulation

import (
	"context"
	"fmt"
	"sync"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/llm"
)

// cascadeItem is one pending delivery in the BFS frontier.
type cascadeItem struct {
	agentID    string
	message    string
	senderName string
	depth      int
}

// runCascade executes the breadth-first strategy: the stimulus enters at the
// seed agents and each reaction propagates to not-yet-visited neighbors,
// layer by layer, until maxDepth. Every agent speaks at most once; its Day
// entry records the BFS depth at which it was reached.
func (r *Runner) runCascade(ctx context.Context, plan *runPlan) (datatypes.SimulationResults, error) {
	visited := make(map[string]struct{}, len(plan.agents))
	perAgent := make(map[string]datatypes.DayEntry)

	queue := make([]cascadeItem, 0, len(plan.seeds))
	for _, seedID := range plan.seeds {
		queue = append(queue, cascadeItem{agentID: seedID, message: plan.stimulus, depth: 0})
	}

	r.mu.Lock()
	r.status.Total = len(plan.agents)
	r.mu.Unlock()
	r.publish()

	for len(queue) > 0 {
		currentDepth := queue[0].depth
		if currentDepth >= plan.maxDepth {
			break
		}

		var layer, rest []cascadeItem
		for _, item := range queue {
			if item.depth == currentDepth {
				layer = append(layer, item)
			} else {
				rest = append(rest, item)
			}
		}
		queue = rest

		r.mu.Lock()
		r.status.Day = currentDepth
		r.mu.Unlock()
		r.publish()

		// First delivery wins; later messages to an already-visited agent
		// are dropped.
		var pending []cascadeItem
		for _, item := range layer {
			if _, seen := visited[item.agentID]; seen {
				continue
			}
			visited[item.agentID] = struct{}{}
			pending = append(pending, item)
		}

		responses := make([]string, len(pending))
		var wg sync.WaitGroup
		for i, item := range pending {
			wg.Add(1)
			go func(i int, item cascadeItem) {
				defer wg.Done()
				agent := plan.agentMap[item.agentID]
				responses[i] = r.generateTurn(ctx, agent,
					fmt.Sprintf("Your neighbor just said: %q", item.message),
					"Respond in 1-2 sentences.", llm.IntPtr(1024))

				r.mu.Lock()
				r.status.Progress++
				r.mu.Unlock()
				r.publish()
			}(i, item)
		}
		wg.Wait()

		var sinkWg sync.WaitGroup
		for i, item := range pending {
			response := responses[i]
			talkedTo := []string{}
			if item.senderName != "" {
				talkedTo = []string{item.senderName}
			}
			perAgent[item.agentID] = datatypes.DayEntry{
				Day:      item.depth,
				Content:  response,
				TalkedTo: talkedTo,
			}

			sinkWg.Add(1)
			go func(agentID string, depth int, content string) {
				defer sinkWg.Done()
				r.notifySink(ctx, MemoryEvent{
					RunID:   plan.runID,
					AgentID: agentID,
					Day:     depth,
					Content: content,
				})
			}(item.agentID, item.depth, response)

			senderName := agentFullName(plan.agentMap[item.agentID])
			for _, neighborID := range plan.agentMap[item.agentID].Connections {
				if _, seen := visited[neighborID]; seen {
					continue
				}
				queue = append(queue, cascadeItem{
					agentID:    neighborID,
					message:    response,
					senderName: senderName,
					depth:      item.depth + 1,
				})
			}
		}
		sinkWg.Wait()
	}

	results := make(datatypes.SimulationResults, len(perAgent))
	for agentID, entry := range perAgent {
		results[agentID] = datatypes.AgentResult{
			AgentID:  agentID,
			FullName: agentFullName(plan.agentMap[agentID]),
			Days:     []datatypes.DayEntry{entry},
			Initial:  entry.Content,
			Final:    entry.Content,
		}
	}
	return results, nil
}
