// Copyright (C) 2025 Matrix Labs
// Tests for reasoning-marker stripping

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripReasoning_NoMarker(t *testing.T) {
	out := StripReasoning("I think taxes are too high.", ReasoningCloseMarker)
	assert.Equal(t, "I think taxes are too high.", out)
}

func TestStripReasoning_SingleMarker(t *testing.T) {
	in := "<think>Let me weigh the tradeoffs here.</think>\nSounds good for small businesses."
	out := StripReasoning(in, ReasoningCloseMarker)
	assert.Equal(t, "Sounds good for small businesses.", out)
}

func TestStripReasoning_MultipleMarkers_KeepsTextAfterLast(t *testing.T) {
	in := "<think>first</think> draft reply <think>second</think> final reply"
	out := StripReasoning(in, ReasoningCloseMarker)
	assert.Equal(t, "final reply", out)
}

func TestStripReasoning_MarkerAtEnd(t *testing.T) {
	out := StripReasoning("<think>all reasoning, no reply</think>", ReasoningCloseMarker)
	assert.Equal(t, "", out)
}

func TestStripReasoning_TrimsWhitespace(t *testing.T) {
	out := StripReasoning("  plain reply  ", ReasoningCloseMarker)
	assert.Equal(t, "plain reply", out)
}

func TestHasUnterminatedReasoning(t *testing.T) {
	assert.True(t, HasUnterminatedReasoning("<think>ran out of tok"))
	assert.False(t, HasUnterminatedReasoning("<think>done</think> reply"))
	assert.False(t, HasUnterminatedReasoning("no reasoning at all"))
}
