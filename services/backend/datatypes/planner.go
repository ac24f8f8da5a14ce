// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// PlannerContextFile is one attachment handed to the planner model.
// Non-text attachments are acknowledged in the prompt but never inlined.
type PlannerContextFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Content  string `json:"content,omitempty"`
}

// PlannerContextRequest is the JSON body of POST /api/planner/context.
type PlannerContextRequest struct {
	Prompt       string               `json:"prompt" binding:"required,min=1"`
	ContextFiles []PlannerContextFile `json:"context_files,omitempty"`
}

type PlannerContextResponse struct {
	OutputText string `json:"output_text"`
	Model      string `json:"model"`
}
