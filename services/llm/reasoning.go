// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "strings"

// Reasoning markers for models that emit an internal deliberation block
// before the spoken reply (DeepSeek R1 family).
const (
	ReasoningOpenMarker  = "<think>"
	ReasoningCloseMarker = "</think>"
)

// StripReasoning removes a model's reasoning segment from generated text.
//
// Contract: everything up to and including the LAST occurrence of marker is
// discarded and the remainder is returned trimmed. If the marker does not
// occur, the input is returned unchanged (trimmed). Callers that need to
// detect an unterminated reasoning block should use HasUnterminatedReasoning
// before stripping.
func StripReasoning(text, marker string) string {
	idx := strings.LastIndex(text, marker)
	if idx < 0 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[idx+len(marker):])
}

// HasUnterminatedReasoning reports whether text opens a reasoning block that
// never closes. This happens when the model runs out of tokens mid-think;
// the text contains no spoken reply at all and a retry is warranted.
func HasUnterminatedReasoning(text string) bool {
	return strings.Contains(text, ReasoningOpenMarker) &&
		!strings.Contains(text, ReasoningCloseMarker)
}
