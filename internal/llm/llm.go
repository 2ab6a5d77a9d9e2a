// Package llm defines the narrow synthesize capability every pipeline stage
// calls. Providers implement Synthesizer; stages own their prompts and schemas.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Schema forces structured output. Definition is a JSON Schema object.
type Schema struct {
	Name        string
	Description string
	Definition  json.RawMessage
}

// SchemaFor derives a strict schema from the json tags of v. Fields without
// omitempty are required and objects reject additional properties.
func SchemaFor(name, description string, v any) (*Schema, error) {
	def, err := jsonschema.GenerateSchemaForType(v)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return &Schema{Name: name, Description: description, Definition: raw}, nil
}

// MustSchemaFor is SchemaFor for package-level schemas.
func MustSchemaFor(name, description string, v any) *Schema {
	s, err := SchemaFor(name, description, v)
	if err != nil {
		panic(err)
	}
	return s
}

// Request is one model call.
type Request struct {
	System string
	Prompt string
	Schema *Schema
	// MaxTokens of zero lets the provider pick its default.
	MaxTokens int
}

// Synthesizer is a generic LLM capability.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (string, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, req Request) (string, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ExtractJSON trims prose and markdown fences around the first JSON object
// in text. Providers without a native schema mode answer this way.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closing := byte('}')
	if text[start] == '[' {
		closing = ']'
	}
	end := strings.LastIndexByte(text, closing)
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}

// DecodeJSON extracts and unmarshals a structured reply.
func DecodeJSON(text string, v any) error {
	return json.Unmarshal([]byte(ExtractJSON(text)), v)
}
