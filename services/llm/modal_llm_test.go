// Copyright (C) 2025 Matrix Labs
// Tests for the Modal/vLLM chat client

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, handler func(req modalChatRequest) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, chatCompletionsPath, r.URL.Path)
		var req modalChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := modalChatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message      Message `json:"message"`
			FinishReason string  `json:"finish_reason"`
		}{Message: Message{Role: RoleAssistant, Content: handler(req)}, FinishReason: "stop"})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestChatEndpointFor(t *testing.T) {
	assert.Equal(t, "https://x.modal.run/v1/chat/completions",
		ChatEndpointFor("https://x.modal.run"))
	assert.Equal(t, "https://x.modal.run/v1/chat/completions",
		ChatEndpointFor("https://x.modal.run/"))
	assert.Equal(t, "https://x.modal.run/v1/chat/completions",
		ChatEndpointFor("https://x.modal.run/v1/chat/completions"))
	assert.Equal(t, "", ChatEndpointFor("  "))
}

func TestModalChat_StripsReasoning(t *testing.T) {
	srv := chatServer(t, func(req modalChatRequest) string {
		return "<think>internal deliberation</think>\nI support the tax credit."
	})
	defer srv.Close()

	client := NewModalClientForEndpoint(srv.URL, "deepseek-r1")
	out, err := client.Chat(context.Background(), "You are a citizen.",
		[]Message{{Role: RoleUser, Content: "React to the news."}}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "I support the tax credit.", out)
}

func TestModalChat_SendsSystemMessageFirst(t *testing.T) {
	var seen []Message
	srv := chatServer(t, func(req modalChatRequest) string {
		seen = req.Messages
		return "ok"
	})
	defer srv.Close()

	client := NewModalClientForEndpoint(srv.URL, "deepseek-r1")
	_, err := client.Chat(context.Background(), "persona prompt",
		[]Message{{Role: RoleUser, Content: "hello"}}, GenerationParams{})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, RoleSystem, seen[0].Role)
	assert.Equal(t, "persona prompt", seen[0].Content)
	assert.Equal(t, RoleUser, seen[1].Role)
}

func TestModalChat_RetriesUnterminatedReasoning(t *testing.T) {
	calls := 0
	srv := chatServer(t, func(req modalChatRequest) string {
		calls++
		if calls == 1 {
			return "<think>still thinking when the budget ran out"
		}
		// The retry must carry the nudge and a small token budget.
		last := req.Messages[len(req.Messages)-1]
		if assert.Equal(t, RoleUser, last.Role) {
			assert.Contains(t, last.Content, "1-2 sentences")
		}
		if assert.NotNil(t, req.MaxTokens) {
			assert.Equal(t, 80, *req.MaxTokens)
		}
		return "<think>brief</think> My actual reaction."
	})
	defer srv.Close()

	client := NewModalClientForEndpoint(srv.URL, "deepseek-r1")
	out, err := client.Chat(context.Background(), "", []Message{{Role: RoleUser, Content: "news"}},
		GenerationParams{MaxTokens: IntPtr(1024)})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "My actual reaction.", out)
}

func TestModalChat_ErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewModalClientForEndpoint(srv.URL, "deepseek-r1")
	_, err := client.Chat(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}},
		GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestModalChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewModalClientForEndpoint(srv.URL, "deepseek-r1")
	_, err := client.Chat(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}},
		GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
