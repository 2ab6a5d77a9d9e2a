//go:build integration

package openai

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/mnemo/internal/llm"
)

func TestIntegration_GenerateEmbedding_RealAPI(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	client := NewClientWithConfig(Config{APIKey: apiKey})
	embedding, err := client.GenerateEmbedding(context.Background(), "We run Postgres 16 in production.")

	require.NoError(t, err)
	assert.Len(t, embedding, DefaultEmbeddingDimensions)
}

func TestIntegration_ChatSynthesizer_RealAPI(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	s := NewChatSynthesizerWithConfig(Config{APIKey: apiKey})
	schema := &llm.Schema{
		Name:       "answer",
		Definition: []byte(`{"type":"object","properties":{"answer":{"type":"string"}},"required":["answer"],"additionalProperties":false}`),
	}
	out, err := s.Synthesize(context.Background(), llm.Request{Prompt: "Say hello.", Schema: schema})

	require.NoError(t, err)
	var decoded struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, llm.DecodeJSON(out, &decoded))
	assert.NotEmpty(t, decoded.Answer)
}
