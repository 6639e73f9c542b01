package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// EmbeddingSize is the output dimension of the sentence-embedding model.
const EmbeddingSize = 384

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Size() int
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint serving the
// sentence model. The returned dimension is validated against Size so a
// misconfigured model surfaces immediately instead of corrupting the
// collection.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	size   int
}

func NewOpenAIEmbedder(endpoint, apiKey, model string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		size:   EmbeddingSize,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, err
	}
	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, errors.New("no embedding in response")
	}
	vector := rsp.Data[0].Embedding
	if len(vector) != e.size {
		return nil, fmt.Errorf("embedding dimension %d does not match expected %d", len(vector), e.size)
	}
	return vector, nil
}

func (e *OpenAIEmbedder) Size() int {
	return e.size
}

// LocalEmbedder produces deterministic vectors from a content hash. It backs
// keyless development runs and tests; vectors carry no semantics.
type LocalEmbedder struct {
	size int
}

func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{size: EmbeddingSize}
}

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, e.size)
	for i := 0; i < e.size; i++ {
		offset := (i * 4) % len(hash)
		chunk := binary.BigEndian.Uint32(hash[offset : offset+4])
		vec[i] = float32(chunk%1000) / 1000.0
	}
	return vec, nil
}

func (e *LocalEmbedder) Size() int {
	return e.size
}
