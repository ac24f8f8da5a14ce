// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const chatCompletionsPath = "/v1/chat/completions"

// ModalClient talks to an OpenAI-compatible chat-completions endpoint, in
// practice a vLLM server hosted on Modal. It strips the model's reasoning
// block before returning, so the returned text is always the spoken reply.
type ModalClient struct {
	httpClient *http.Client
	endpoint   string
	model      string
	apiKey     string
}

type modalChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float32  `json:"temperature,omitempty"`
	TopP        *float32  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type modalChatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ChatEndpointFor normalizes a base URL or full endpoint into the
// chat-completions endpoint: trailing slashes are trimmed and the
// /v1/chat/completions path is appended unless already present.
func ChatEndpointFor(baseOrEndpoint string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseOrEndpoint), "/")
	if trimmed == "" {
		return ""
	}
	if strings.HasSuffix(trimmed, chatCompletionsPath) {
		return trimmed
	}
	return trimmed + chatCompletionsPath
}

func NewModalClient() (*ModalClient, error) {
	base := os.Getenv("SIM_MODAL_ENDPOINT")
	if base == "" {
		base = os.Getenv("MODAL_ENDPOINT")
	}
	if base == "" {
		return nil, fmt.Errorf("SIM_MODAL_ENDPOINT environment variable not set")
	}
	model := os.Getenv("SIM_MODAL_MODEL")
	if model == "" {
		model = "deepseek-r1"
		slog.Warn("SIM_MODAL_MODEL not set, defaulting to deepseek-r1")
	}
	return &ModalClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		endpoint:   ChatEndpointFor(base),
		model:      model,
		apiKey:     strings.TrimSpace(os.Getenv("SIM_MODAL_API_KEY")),
	}, nil
}

// NewModalClientForEndpoint builds a client against an explicit endpoint.
// Used by the CLI and by tests.
func NewModalClientForEndpoint(baseOrEndpoint, model string) *ModalClient {
	return &ModalClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		endpoint:   ChatEndpointFor(baseOrEndpoint),
		model:      model,
	}
}

// Generate implements the LLMClient interface.
func (m *ModalClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return m.Chat(ctx, "", []Message{{Role: RoleUser, Content: prompt}}, params)
}

// Chat implements the LLMClient interface.
//
// If the model burns its whole token budget inside an unterminated reasoning
// block, one retry is issued nudging it to answer directly in a small budget.
func (m *ModalClient) Chat(ctx context.Context, system string, messages []Message,
	params GenerationParams) (string, error) {

	all := make([]Message, 0, len(messages)+1)
	if system != "" {
		all = append(all, Message{Role: RoleSystem, Content: system})
	}
	all = append(all, messages...)

	content, err := m.complete(ctx, all, params)
	if err != nil {
		return "", err
	}

	if HasUnterminatedReasoning(content) {
		retry := append(append([]Message{}, all...),
			Message{Role: RoleAssistant, Content: content},
			Message{Role: RoleUser, Content: "Just say your reaction in 1-2 sentences."},
		)
		retryParams := params
		retryParams.MaxTokens = IntPtr(80)
		retried, retryErr := m.complete(ctx, retry, retryParams)
		if retryErr != nil {
			slog.Warn("Reasoning-retry request failed, keeping first response", "error", retryErr)
		} else {
			content = retried
		}
	}

	return StripReasoning(content, ReasoningCloseMarker), nil
}

func (m *ModalClient) complete(ctx context.Context, messages []Message,
	params GenerationParams) (string, error) {

	payload := modalChatRequest{
		Model:       m.model,
		Messages:    messages,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat endpoint responded %d: %s", resp.StatusCode, truncateForError(raw))
	}

	var parsed modalChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("chat response was not valid JSON: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat endpoint returned error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat endpoint returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncateForError(raw []byte) string {
	const limit = 220
	s := string(raw)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
