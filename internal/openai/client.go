// Package openai adapts the go-openai client to the embedding and
// synthesis ports of the service layer.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultEmbeddingModel      = openai.SmallEmbedding3
	DefaultEmbeddingDimensions = 1536
)

var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	errNoEmbedding     = errors.New("no embedding data returned")
)

// Config is shared by the embedding client and the chat synthesizer.
type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
}

// EmbeddingsAPI is the subset of the go-openai client the embedder needs.
type EmbeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client embeds chunk content and queries. Every vector it returns has
// exactly Dimensions() components.
type Client struct {
	api        EmbeddingsAPI
	model      openai.EmbeddingModel
	dimensions int
}

func NewClient(api EmbeddingsAPI, model openai.EmbeddingModel, dimensions int) *Client {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{api: api, model: model, dimensions: dimensions}
}

// NewClientWithConfig builds an embedder backed by a real client.
func NewClientWithConfig(cfg Config) *Client {
	return NewClient(openai.NewClient(cfg.APIKey), cfg.EmbeddingModel, cfg.EmbeddingDimensions)
}

func (c *Client) Dimensions() int {
	return c.dimensions
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	}
	// ada-002 has a fixed size and rejects the dimensions parameter
	if c.model != openai.AdaEmbeddingV2 {
		req.Dimensions = c.dimensions
	}

	resp, err := c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errNoEmbedding
	}

	vec := resp.Data[0].Embedding
	if len(vec) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongDimensions, len(vec), c.dimensions)
	}
	return vec, nil
}
