// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Message is a single chat turn, mirroring the OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMClient defines the standard interface for any LLM backend.
//
// Chat is the primary entry point for the simulation: system instructions
// plus conversation messages in, spoken text out. Implementations must
// strip any reasoning segment (see StripReasoning) before returning, so
// callers always receive text safe to forward as an agent's utterance.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, system string, messages []Message, params GenerationParams) (string, error)
}

func Float32Ptr(v float32) *float32 { return &v }
func IntPtr(v int) *int             { return &v }
