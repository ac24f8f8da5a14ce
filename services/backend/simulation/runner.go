// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package simulation runs multi-day conversation propagation over a social
// graph. One run at a time: every agent is an LLM persona, a news stimulus
// enters the graph, and messages flow along edges either in synchronized
// daily rounds or as a breadth-first cascade from seed agents.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/backend/observability"
	"github.com/matrixsim/matrix-backend/services/llm"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in flight.
	ErrAlreadyRunning = errors.New("a simulation is already running")

	// ErrNotReady is returned by Results before a run has finished.
	ErrNotReady = errors.New("simulation not complete yet")

	// ErrRunNotFound is returned when an archived run id is unknown.
	ErrRunNotFound = errors.New("simulation run not found")
)

// DefaultStimulus is the news spark injected when a run request carries none.
const DefaultStimulus = "BREAKING: A leaked Texas legislative proposal suggests a 20% tax credit " +
	"for small businesses, offset by a 5% tax hike on luxury properties over $2M."

const (
	// DefaultDays is the round count for rounds mode.
	DefaultDays = 5

	// DefaultMaxDepth bounds cascade propagation.
	DefaultMaxDepth = 3

	// DefaultSeedCount is how many random seeds a cascade starts from when
	// the request names none.
	DefaultSeedCount = 2

	// maxIncomingMessages caps how many neighbor messages feed one turn.
	maxIncomingMessages = 5

	// incomingExcerptLimit truncates each quoted neighbor message.
	incomingExcerptLimit = 200
)

// runPlan is a fully resolved run request.
type runPlan struct {
	runID    string
	mode     string
	stimulus string
	days     int
	seeds    []string
	maxDepth int

	agents   []datatypes.GraphNode
	agentMap map[string]datatypes.GraphNode
}

// Runner owns the single in-flight simulation and its terminal results.
// Safe for concurrent use; all HTTP handlers share one Runner.
type Runner struct {
	llmClient llm.LLMClient
	sink      MemorySink
	archive   *Archive

	mu          sync.Mutex
	status      datatypes.SimulationStatus
	results     datatypes.SimulationResults
	subscribers map[chan datatypes.SimulationStatus]struct{}
}

// NewRunner creates an idle Runner. sink may be nil (events are dropped);
// archive may be nil (finished runs are not persisted).
func NewRunner(client llm.LLMClient, sink MemorySink, archive *Archive) *Runner {
	if sink == nil {
		sink = NopSink{}
	}
	return &Runner{
		llmClient:   client,
		sink:        sink,
		archive:     archive,
		status:      datatypes.SimulationStatus{State: datatypes.SimStateIdle},
		subscribers: make(map[chan datatypes.SimulationStatus]struct{}),
	}
}

// Start validates the request against the graph and launches the run in the
// background, returning its id. Returns ErrAlreadyRunning while a previous
// run is still in flight.
func (r *Runner) Start(req *datatypes.SimulationRunRequest, graph *datatypes.GraphBuildResponse) (string, error) {
	plan, err := r.resolvePlan(req, graph)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.status.State == datatypes.SimStateRunning {
		r.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	r.status = datatypes.SimulationStatus{
		RunID: plan.runID,
		Mode:  plan.mode,
		State: datatypes.SimStateRunning,
	}
	r.results = nil
	r.mu.Unlock()

	observability.SetActiveSimulations(1)
	r.publish()

	slog.Info("Simulation started",
		"runId", plan.runID, "mode", plan.mode, "agents", len(plan.agents))

	// Detached from the request context: the run outlives the POST that
	// started it.
	go r.run(context.Background(), plan)

	return plan.runID, nil
}

func (r *Runner) resolvePlan(req *datatypes.SimulationRunRequest, graph *datatypes.GraphBuildResponse) (*runPlan, error) {
	if graph == nil || len(graph.Nodes) == 0 {
		return nil, errors.New("no graph data available for simulation")
	}
	if req == nil {
		req = &datatypes.SimulationRunRequest{}
	}

	plan := &runPlan{
		runID:    uuid.NewString(),
		mode:     req.Mode,
		stimulus: strings.TrimSpace(req.Stimulus),
		days:     req.Days,
		maxDepth: req.MaxDepth,
		agents:   graph.Nodes,
		agentMap: make(map[string]datatypes.GraphNode, len(graph.Nodes)),
	}
	for _, node := range graph.Nodes {
		plan.agentMap[node.ID] = node
	}

	if plan.mode == "" {
		plan.mode = datatypes.SimModeRounds
	}
	if plan.stimulus == "" {
		plan.stimulus = DefaultStimulus
	}
	if plan.days <= 0 {
		plan.days = DefaultDays
	}
	if plan.maxDepth <= 0 {
		plan.maxDepth = DefaultMaxDepth
	}

	if plan.mode == datatypes.SimModeCascade {
		seeds, err := resolveSeeds(req.Seeds, plan.agentMap, graph.Nodes)
		if err != nil {
			return nil, err
		}
		plan.seeds = seeds
	}

	return plan, nil
}

// resolveSeeds validates requested seed ids or samples random ones.
func resolveSeeds(requested []string, agentMap map[string]datatypes.GraphNode, nodes []datatypes.GraphNode) ([]string, error) {
	if len(requested) > 0 {
		seen := make(map[string]struct{}, len(requested))
		var seeds []string
		for _, raw := range requested {
			id := strings.TrimSpace(raw)
			if id == "" {
				continue
			}
			if _, ok := agentMap[id]; !ok {
				return nil, fmt.Errorf("unknown seed agent_id: %s", id)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			seeds = append(seeds, id)
		}
		if len(seeds) == 0 {
			return nil, errors.New("no usable seed agent_ids in request")
		}
		return seeds, nil
	}

	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	count := DefaultSeedCount
	if count > len(ids) {
		count = len(ids)
	}
	return ids[:count], nil
}

func (r *Runner) run(ctx context.Context, plan *runPlan) {
	startedAt := time.Now()

	var (
		results datatypes.SimulationResults
		err     error
	)
	// Injected clients and sinks can panic; the run must land in the error
	// state rather than take the process down.
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("simulation panicked: %v", p)
			}
		}()
		switch plan.mode {
		case datatypes.SimModeCascade:
			results, err = r.runCascade(ctx, plan)
		default:
			results, err = r.runRounds(ctx, plan)
		}
	}()

	observability.SetActiveSimulations(0)

	r.mu.Lock()
	if err != nil {
		r.status = datatypes.SimulationStatus{
			RunID: plan.runID,
			Mode:  plan.mode,
			State: datatypes.SimStateError,
			Error: err.Error(),
		}
		r.results = nil
	} else {
		r.status.State = datatypes.SimStateDone
		r.status.Error = ""
		r.results = results
	}
	finalStatus := r.status
	r.mu.Unlock()
	r.publish()

	if err != nil {
		slog.Error("Simulation failed", "runId", plan.runID, "mode", plan.mode, "error", err)
		observability.RecordSimulationRun(plan.mode, "error")
	} else {
		slog.Info("Simulation finished",
			"runId", plan.runID, "mode", plan.mode,
			"agents", len(results), "elapsed", time.Since(startedAt).String())
		observability.RecordSimulationRun(plan.mode, "done")
	}

	if r.archive != nil {
		record := datatypes.SimulationRunRecord{
			RunID:      plan.runID,
			Mode:       plan.mode,
			Stimulus:   plan.stimulus,
			AgentCount: len(plan.agents),
			StartedAt:  startedAt.UnixMilli(),
			FinishedAt: time.Now().UnixMilli(),
			Status:     finalStatus,
			Results:    results,
		}
		if saveErr := r.archive.Save(record); saveErr != nil {
			slog.Error("Failed to archive simulation run", "runId", plan.runID, "error", saveErr)
		}
	}
}

// runRounds executes the synchronized daily-rounds strategy: every day every
// agent speaks exactly once, reacting to what its neighbors said the
// previous day. Day 0 is the stimulus day.
func (r *Runner) runRounds(ctx context.Context, plan *runPlan) (datatypes.SimulationResults, error) {
	agentIDs := make([]string, len(plan.agents))
	for i, node := range plan.agents {
		agentIDs[i] = node.ID
	}

	perAgent := make(map[string][]datatypes.DayEntry, len(agentIDs))
	currentMessages := make(map[string]string)
	totalSteps := plan.days * len(agentIDs)

	r.mu.Lock()
	r.status.Total = totalSteps
	r.mu.Unlock()
	r.publish()

	for day := 0; day < plan.days; day++ {
		r.mu.Lock()
		r.status.Day = day
		r.mu.Unlock()
		r.publish()

		type turnInput struct {
			agentID       string
			incoming      []string
			neighborNames []string
			talkedTo      []string
		}
		turns := make([]turnInput, 0, len(agentIDs))

		for _, agentID := range agentIDs {
			agent := plan.agentMap[agentID]

			var turn turnInput
			turn.agentID = agentID
			if day == 0 {
				turn.incoming = []string{plan.stimulus}
				turn.talkedTo = []string{}
			} else {
				var active []string
				for _, neighborID := range agent.Connections {
					if _, ok := currentMessages[neighborID]; ok {
						active = append(active, neighborID)
					}
				}
				// An isolated agent keeps mulling over its own last message.
				if len(active) == 0 {
					if _, ok := currentMessages[agentID]; ok {
						active = []string{agentID}
					}
				}
				if len(active) == 0 {
					turn.incoming = []string{plan.stimulus}
				} else {
					for _, id := range active {
						turn.incoming = append(turn.incoming, currentMessages[id])
						turn.neighborNames = append(turn.neighborNames, agentFullName(plan.agentMap[id]))
					}
				}
				turn.talkedTo = []string{}
				for _, id := range active {
					if id != agentID {
						turn.talkedTo = append(turn.talkedTo, agentFullName(plan.agentMap[id]))
					}
				}
			}
			turns = append(turns, turn)
		}

		responses := make([]string, len(turns))
		var wg sync.WaitGroup
		for i, turn := range turns {
			wg.Add(1)
			go func(i int, turn turnInput) {
				defer wg.Done()
				agent := plan.agentMap[turn.agentID]
				responses[i] = r.generateTurn(ctx, agent, roundsTurnPrompt(turn.incoming, turn.neighborNames),
					"Respond in 2-3 sentences only.", llm.IntPtr(512))

				r.mu.Lock()
				r.status.Progress++
				r.mu.Unlock()
				r.publish()
			}(i, turn)
		}
		wg.Wait()

		// Memory writes are awaited at the round boundary so a day's
		// utterances land before the next day starts, but failures
		// never surface.
		var sinkWg sync.WaitGroup
		nextMessages := make(map[string]string, len(turns))
		for i, turn := range turns {
			response := responses[i]
			nextMessages[turn.agentID] = response
			perAgent[turn.agentID] = append(perAgent[turn.agentID], datatypes.DayEntry{
				Day:      day,
				Content:  response,
				TalkedTo: turn.talkedTo,
			})

			sinkWg.Add(1)
			go func(agentID string, day int, content string) {
				defer sinkWg.Done()
				r.notifySink(ctx, MemoryEvent{
					RunID:   plan.runID,
					AgentID: agentID,
					Day:     day,
					Content: content,
				})
			}(turn.agentID, day, response)
		}
		sinkWg.Wait()
		currentMessages = nextMessages
	}

	r.mu.Lock()
	r.status.Day = plan.days
	r.mu.Unlock()

	results := make(datatypes.SimulationResults, len(agentIDs))
	for _, agentID := range agentIDs {
		entries := perAgent[agentID]
		result := datatypes.AgentResult{
			AgentID:  agentID,
			FullName: agentFullName(plan.agentMap[agentID]),
			Days:     entries,
		}
		if len(entries) > 0 {
			result.Initial = entries[0].Content
			result.Final = entries[len(entries)-1].Content
		}
		results[agentID] = result
	}
	return results, nil
}

// generateTurn calls the LLM for one agent and degrades to a placeholder
// on failure so one dead agent never aborts the run.
func (r *Runner) generateTurn(ctx context.Context, agent datatypes.GraphNode, userContent, lengthHint string, maxTokens *int) string {
	fullName := agentFullName(agent)
	system := fmt.Sprintf(
		"You ARE %s. %s\n\n"+
			"IMPORTANT: You are %s. Speak in first person ('I', 'me', 'my'). "+
			"Never use any other name for yourself. Never narrate. %s",
		fullName, agent.Metadata["system_prompt"], fullName, lengthHint)

	started := time.Now()
	content, err := func() (s string, e error) {
		defer func() {
			if p := recover(); p != nil {
				e = fmt.Errorf("llm client panicked: %v", p)
			}
		}()
		return r.llmClient.Chat(ctx, system,
			[]llm.Message{{Role: llm.RoleUser, Content: userContent}},
			llm.GenerationParams{
				Temperature: llm.Float32Ptr(0.9),
				MaxTokens:   maxTokens,
			})
	}()
	if err != nil {
		observability.RecordAgentGeneration("degraded", time.Since(started).Seconds())
		slog.Warn("Agent generation failed, degrading to placeholder",
			"agentId", agent.ID, "error", err)
		return fmt.Sprintf("[%s unavailable: %v]", agent.ID, err)
	}
	observability.RecordAgentGeneration("success", time.Since(started).Seconds())
	return strings.TrimSpace(content)
}

// roundsTurnPrompt renders the user message for a rounds-mode turn.
func roundsTurnPrompt(incoming []string, neighborNames []string) string {
	if len(neighborNames) == 0 {
		return fmt.Sprintf("You just heard this news: %q", incoming[0])
	}
	if len(incoming) == 1 {
		return fmt.Sprintf("Your neighbor %s just shared: %q", neighborNames[0], incoming[0])
	}

	var b strings.Builder
	b.WriteString("Your neighbors have been talking:\n")
	for i, message := range incoming {
		if i >= maxIncomingMessages {
			break
		}
		name := "Someone"
		if i < len(neighborNames) {
			name = neighborNames[i]
		}
		fmt.Fprintf(&b, "- %s said: %q\n", name,
			truncateOnRuneBoundary(message, incomingExcerptLimit))
	}
	b.WriteString("What's your take?")
	return b.String()
}

// notifySink shields the run from a misbehaving sink implementation. Sinks
// are best effort by contract, so a panic is only logged.
func (r *Runner) notifySink(ctx context.Context, event MemoryEvent) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Memory sink panicked",
				"agentId", event.AgentID, "day", event.Day, "panic", p)
		}
	}()
	r.sink.Notify(ctx, event)
}

// truncateOnRuneBoundary cuts s to at most limit bytes without splitting a
// multi-byte rune.
func truncateOnRuneBoundary(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func agentFullName(agent datatypes.GraphNode) string {
	if name := strings.TrimSpace(agent.Metadata["full_name"]); name != "" {
		return name
	}
	return agent.ID
}

// Status returns a snapshot of the current run state.
func (r *Runner) Status() datatypes.SimulationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Results returns the finished run's per-agent histories. ErrNotReady until
// the state is done.
func (r *Runner) Results() (datatypes.SimulationResults, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State != datatypes.SimStateDone {
		return nil, ErrNotReady
	}
	return r.results, nil
}

// Subscribe registers a status listener for live progress. The returned
// cancel func must be called to release the channel. Slow listeners miss
// intermediate updates rather than blocking the run.
func (r *Runner) Subscribe() (<-chan datatypes.SimulationStatus, func()) {
	ch := make(chan datatypes.SimulationStatus, 8)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	current := r.status
	r.mu.Unlock()

	// Prime with the current state so late joiners see something immediately.
	ch <- current

	cancel := func() {
		r.mu.Lock()
		delete(r.subscribers, ch)
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Runner) publish() {
	r.mu.Lock()
	status := r.status
	for ch := range r.subscribers {
		select {
		case ch <- status:
		default:
		}
	}
	r.mu.Unlock()
}
