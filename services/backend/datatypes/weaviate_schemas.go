// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// AgentMemoryClass is the Weaviate class holding per-agent simulation
// memories, one object per agent per day.
const AgentMemoryClass = "AgentMemory"

func GetAgentMemorySchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       AgentMemoryClass,
		Description: "A simulated agent's utterance for one day of a run.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The agent's spoken text for the day.",
				Tokenization: "word",
			},
			{
				Name:            "agent_id",
				DataType:        []string{"text"},
				Description:     "The agent that produced this memory.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "run_id",
				DataType:        []string{"text"},
				Description:     "The simulation run this memory belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "day",
				DataType:        []string{"int"},
				Description:     "Round index (or BFS depth) of the utterance.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "stored_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the memory was stored.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes. Creation failure is
// fatal at startup; an already-present class is left untouched.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetAgentMemorySchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// If it doesn't exist, the client returns an error. We can now create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
