package kb

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

// MockEmbeddingProvider generates deterministic embeddings and counts
// provider calls so tests can assert cache and hash-skip behavior.
type MockEmbeddingProvider struct {
	dimension int
	calls     atomic.Int64
}

func NewMockEmbeddingProvider(dimension int) *MockEmbeddingProvider {
	return &MockEmbeddingProvider{dimension: dimension}
}

func (p *MockEmbeddingProvider) Dimension() int {
	return p.dimension
}

func (p *MockEmbeddingProvider) Calls() int {
	return int(p.calls.Load())
}

func (p *MockEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (p *MockEmbeddingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		hash := 0
		for _, c := range text {
			hash = hash*31 + int(c)
		}

		embedding := make([]float32, p.dimension)
		for j := 0; j < p.dimension; j++ {
			embedding[j] = float32((hash+j)%100) / 100.0
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

func TestNewOpenAIProvider(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		dimension int
	}{
		{"should default small models to 1536", "text-embedding-3-small", 1536},
		{"should use 3072 for the large model", "text-embedding-3-large", 3072},
		{"should default unknown models to 1536", "some-future-model", 1536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewOpenAIProvider("test-key", "", tt.model)
			assert.Equal(t, tt.dimension, p.Dimension())
		})
	}
}
