package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/mnemo/internal/llm"
)

type MockMessagesAPI struct {
	mock.Mock
}

func (m *MockMessagesAPI) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.Message), args.Error(1)
}

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}}}
}

func TestSynthesizer_StructuredRequestExtractsJSON(t *testing.T) {
	api := new(MockMessagesAPI)
	s := NewSynthesizer(api, "")
	ctx := context.Background()

	api.On("New", ctx, mock.MatchedBy(func(p anthropic.MessageNewParams) bool {
		return string(p.Model) == DefaultModel &&
			p.MaxTokens == defaultMaxTokens &&
			len(p.System) == 1 &&
			strings.Contains(p.System[0].Text, `"type":"object"`)
	})).Return(textMessage("Sure:\n```json\n{\"critique\":null}\n```"), nil)

	out, err := s.Synthesize(ctx, llm.Request{
		System: "Review the proposal.",
		Prompt: "proposal p1",
		Schema: &llm.Schema{Name: "critique", Definition: json.RawMessage(`{"type":"object"}`)},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"critique":null}`, out)
	api.AssertExpectations(t)
}

func TestSynthesizer_PlainText(t *testing.T) {
	api := new(MockMessagesAPI)
	s := NewSynthesizer(api, "claude-test")

	api.On("New", mock.Anything, mock.MatchedBy(func(p anthropic.MessageNewParams) bool {
		return string(p.Model) == "claude-test" && len(p.System) == 0 && p.MaxTokens == 64
	})).Return(textMessage("  which Postgres version runs in production  "), nil)

	out, err := s.Synthesize(context.Background(), llm.Request{Prompt: "rewrite", MaxTokens: 64})

	require.NoError(t, err)
	assert.Equal(t, "which Postgres version runs in production", out)
}

func TestSynthesizer_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		api := new(MockMessagesAPI)
		api.On("New", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

		_, err := NewSynthesizer(api, "").Synthesize(context.Background(), llm.Request{Prompt: "x"})
		assert.ErrorContains(t, err, "claude API error")
	})

	t.Run("no text blocks", func(t *testing.T) {
		api := new(MockMessagesAPI)
		api.On("New", mock.Anything, mock.Anything).Return(&anthropic.Message{}, nil)

		_, err := NewSynthesizer(api, "").Synthesize(context.Background(), llm.Request{Prompt: "x"})
		assert.ErrorIs(t, err, llm.ErrEmptyResponse)
	})
}
