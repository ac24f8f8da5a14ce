// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/llm"
)

// capturingLLM records the last chat and returns a canned answer.
type capturingLLM struct {
	lastSystem   string
	lastMessages []llm.Message
	lastParams   llm.GenerationParams
	answer       string
	err          error
}

func (c *capturingLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return c.Chat(ctx, "", []llm.Message{{Role: llm.RoleUser, Content: prompt}}, params)
}

func (c *capturingLLM) Chat(ctx context.Context, system string, messages []llm.Message, params llm.GenerationParams) (string, error) {
	c.lastSystem = system
	c.lastMessages = messages
	c.lastParams = params
	if c.err != nil {
		return "", c.err
	}
	return c.answer, nil
}

func plannerRequest(t *testing.T, body datatypes.PlannerContextRequest) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, _ := http.NewRequest("POST", "/api/planner/context", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandlePlannerContext_Success(t *testing.T) {
	client := &capturingLLM{answer: "agent_id,connections,system_prompt\nTX-001,,You are..."}
	router := gin.New()
	router.POST("/api/planner/context", HandlePlannerContext(client, "deepseek-r1"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, plannerRequest(t, datatypes.PlannerContextRequest{
		Prompt: "Simulate 20 Texas voters.",
	}))

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.PlannerContextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "deepseek-r1", resp.Model)
	assert.Contains(t, resp.OutputText, "agent_id")

	require.Len(t, client.lastMessages, 1)
	assert.Contains(t, client.lastMessages[0].Content, "Simulation request:\nSimulate 20 Texas voters.")
	assert.Contains(t, client.lastMessages[0].Content, "No external context files attached.")
	require.NotNil(t, client.lastParams.Temperature)
	assert.InDelta(t, 0.2, float64(*client.lastParams.Temperature), 0.001)
}

func TestHandlePlannerContext_InlinesTextFiles(t *testing.T) {
	client := &capturingLLM{answer: "csv"}
	router := gin.New()
	router.POST("/api/planner/context", HandlePlannerContext(client, "deepseek-r1"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, plannerRequest(t, datatypes.PlannerContextRequest{
		Prompt: "plan",
		ContextFiles: []datatypes.PlannerContextFile{
			{Name: "notes.md", MimeType: "text/markdown", Content: "census notes"},
			{Name: "photo.png", MimeType: "image/png", Content: "xxxx"},
		},
	}))

	require.Equal(t, http.StatusOK, w.Code)
	content := client.lastMessages[0].Content
	assert.Contains(t, content, "census notes")
	assert.Contains(t, content, "photo.png (image/png)")
	assert.Contains(t, content, "[Binary or non-text file attached; not inlined.]")
}

func TestHandlePlannerContext_TruncatesLargeFiles(t *testing.T) {
	client := &capturingLLM{answer: "csv"}
	router := gin.New()
	router.POST("/api/planner/context", HandlePlannerContext(client, "deepseek-r1"))

	big := strings.Repeat("x", plannerContextMaxFileChars+100)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, plannerRequest(t, datatypes.PlannerContextRequest{
		Prompt: "plan",
		ContextFiles: []datatypes.PlannerContextFile{
			{Name: "big.txt", MimeType: "text/plain", Content: big},
		},
	}))

	require.Equal(t, http.StatusOK, w.Code)
	content := client.lastMessages[0].Content
	assert.Contains(t, content, "...[truncated]")
	assert.NotContains(t, content, big)
}

func TestBuildContextBlock_TruncatesOnRuneBoundary(t *testing.T) {
	// 3-byte runes with the file budget landing mid-rune; the excerpt must
	// back off instead of emitting a split character.
	big := strings.Repeat("€", plannerContextMaxFileChars)
	block := buildContextBlock([]datatypes.PlannerContextFile{
		{Name: "euro.txt", MimeType: "text/plain", Content: big},
	})

	assert.True(t, utf8.ValidString(block))
	assert.Contains(t, block, "...[truncated]")
}

func TestHandlePlannerContext_BudgetExhaustedOmitsFiles(t *testing.T) {
	client := &capturingLLM{answer: "csv"}
	router := gin.New()
	router.POST("/api/planner/context", HandlePlannerContext(client, "deepseek-r1"))

	files := make([]datatypes.PlannerContextFile, 0, 7)
	for i := 0; i < 7; i++ {
		files = append(files, datatypes.PlannerContextFile{
			Name:     "f.txt",
			MimeType: "text/plain",
			Content:  strings.Repeat("y", plannerContextMaxFileChars),
		})
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, plannerRequest(t, datatypes.PlannerContextRequest{
		Prompt:       "plan",
		ContextFiles: files,
	}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, client.lastMessages[0].Content, "[Omitted due to context size budget.]")
}

func TestHandlePlannerContext_MissingPromptIs400(t *testing.T) {
	router := gin.New()
	router.POST("/api/planner/context", HandlePlannerContext(&capturingLLM{answer: "x"}, "m"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/planner/context", strings.NewReader(`{"prompt": "   "}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePlannerContext_ModelFailureIs502(t *testing.T) {
	client := &capturingLLM{err: errors.New("endpoint down")}
	router := gin.New()
	router.POST("/api/planner/context", HandlePlannerContext(client, "m"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, plannerRequest(t, datatypes.PlannerContextRequest{Prompt: "plan"}))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "endpoint down")
}

func TestHandlePlannerContext_EmptyModelOutputIs502(t *testing.T) {
	client := &capturingLLM{answer: "   "}
	router := gin.New()
	router.POST("/api/planner/context", HandlePlannerContext(client, "m"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, plannerRequest(t, datatypes.PlannerContextRequest{Prompt: "plan"}))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "empty content")
}
