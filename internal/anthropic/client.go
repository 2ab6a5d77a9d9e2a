// Package anthropic implements llm.Synthesizer on the Claude Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cloo-solutions/mnemo/internal/llm"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 2048
)

// MessagesAPI is the subset of the SDK's message service we call.
type MessagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Synthesizer has no native schema mode, so structured requests carry the
// schema in the system prompt and the reply is cut down to its JSON body.
type Synthesizer struct {
	api   MessagesAPI
	model string
}

func NewSynthesizer(api MessagesAPI, model string) *Synthesizer {
	if model == "" {
		model = DefaultModel
	}
	return &Synthesizer{api: api, model: model}
}

// NewSynthesizerFromKey builds a synthesizer with a real SDK client.
func NewSynthesizerFromKey(apiKey, model string) *Synthesizer {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewSynthesizer(&client.Messages, model)
}

func (s *Synthesizer) Synthesize(ctx context.Context, req llm.Request) (string, error) {
	system := req.System
	if req.Schema != nil {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else. " +
			"It must validate against this JSON Schema (" + req.Schema.Name + "):\n" + string(req.Schema.Definition))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := s.api.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", llm.ErrEmptyResponse
	}

	if req.Schema != nil {
		return llm.ExtractJSON(text), nil
	}
	return text, nil
}
