package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/mnemo/internal/llm"
)

const DefaultChatModel = openai.GPT4oMini

// ChatAPI is the subset of the go-openai client the synthesizer needs.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatSynthesizer implements llm.Synthesizer on chat completions, using
// strict json_schema response formats for structured requests.
type ChatSynthesizer struct {
	api   ChatAPI
	model string
}

func NewChatSynthesizer(api ChatAPI, model string) *ChatSynthesizer {
	if model == "" {
		model = DefaultChatModel
	}
	return &ChatSynthesizer{api: api, model: model}
}

// NewChatSynthesizerWithConfig builds a synthesizer backed by a real client.
func NewChatSynthesizerWithConfig(cfg Config) *ChatSynthesizer {
	return NewChatSynthesizer(openai.NewClient(cfg.APIKey), cfg.ChatModel)
}

func (s *ChatSynthesizer) Synthesize(ctx context.Context, req llm.Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: 0.2,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.Schema != nil {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Schema:      req.Schema.Definition,
				Strict:      true,
			},
		}
	}

	resp, err := s.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", llm.ErrEmptyResponse
	}

	return resp.Choices[0].Message.Content, nil
}
