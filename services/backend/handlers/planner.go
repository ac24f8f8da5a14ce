// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/llm"
)

const (
	plannerContextMaxTotalChars = 26000
	plannerContextMaxFileChars  = 5000
	plannerTemperature          = 0.2
)

var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".markdown": {}, ".csv": {}, ".tsv": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".xml": {},
	".html": {}, ".htm": {}, ".log": {},
}

const defaultPlannerSystemPrompt = "You are a simulation planner assistant. " +
	"Use provided prompt + context files to generate representative-agent master CSV output."

// plannerSystemPrompt loads an operator-supplied prompt file when configured,
// falling back to the built-in default.
func plannerSystemPrompt() string {
	path := strings.TrimSpace(os.Getenv("PLANNER_SYSTEM_PROMPT_PATH"))
	if path == "" {
		return defaultPlannerSystemPrompt
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read planner system prompt file, using default",
			"path", path, "error", err)
		return defaultPlannerSystemPrompt
	}
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" {
		return trimmed
	}
	return defaultPlannerSystemPrompt
}

// HandlePlannerContext asks the planner model to turn a prompt plus attached
// context files into an agent roster. The model name is echoed back so the
// frontend can display provenance.
func HandlePlannerContext(client llm.LLMClient, model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PlannerContextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		prompt := strings.TrimSpace(req.Prompt)
		if prompt == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required."})
			return
		}

		contextBlock := buildContextBlock(req.ContextFiles)
		userContent := fmt.Sprintf("Simulation request:\n%s\n\nAttached context:\n%s", prompt, contextBlock)

		output, err := client.Chat(c.Request.Context(), plannerSystemPrompt(),
			[]llm.Message{{Role: llm.RoleUser, Content: userContent}},
			llm.GenerationParams{Temperature: llm.Float32Ptr(plannerTemperature)})
		if err != nil {
			slog.Error("Planner model call failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(output) == "" {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Planner returned empty content."})
			return
		}

		c.JSON(http.StatusOK, datatypes.PlannerContextResponse{
			OutputText: output,
			Model:      model,
		})
	}
}

func isTextContextFile(file datatypes.PlannerContextFile) bool {
	if strings.HasPrefix(strings.ToLower(file.MimeType), "text/") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(file.Name))
	_, ok := textExtensions[ext]
	return ok
}

// buildContextBlock inlines text attachments under a total character budget.
// Non-text files get a notice instead of their bytes, and files past the
// budget are named but omitted.
func buildContextBlock(files []datatypes.PlannerContextFile) string {
	if len(files) == 0 {
		return "No external context files attached."
	}

	remaining := plannerContextMaxTotalChars
	sections := make([]string, 0, len(files))
	for _, file := range files {
		name := file.Name
		if name == "" {
			name = "unknown-file"
		}
		mimeType := file.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		descriptor := fmt.Sprintf("%s (%s)", name, mimeType)

		if !isTextContextFile(file) {
			sections = append(sections,
				fmt.Sprintf("File: %s\nContent: [Binary or non-text file attached; not inlined.]", descriptor))
			continue
		}
		if remaining <= 0 {
			sections = append(sections,
				fmt.Sprintf("File: %s\nContent: [Omitted due to context size budget.]", descriptor))
			continue
		}

		excerptLimit := plannerContextMaxFileChars
		if remaining < excerptLimit {
			excerptLimit = remaining
		}
		excerpt := truncateContextExcerpt(file.Content, excerptLimit)
		remaining -= len(excerpt)
		suffix := ""
		if len(file.Content) > len(excerpt) {
			suffix = "\n...[truncated]"
		}
		sections = append(sections,
			fmt.Sprintf("File: %s\nContent:\n```\n%s%s\n```", descriptor, excerpt, suffix))
	}

	return strings.Join(sections, "\n\n")
}

// truncateContextExcerpt cuts content to at most limit bytes, backing off to
// a rune boundary so the prompt never carries a split multi-byte character.
func truncateContextExcerpt(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
