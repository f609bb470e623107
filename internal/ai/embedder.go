package ai

import (
	"context"
	"fmt"
)

// embedBatchSize is the provider-side limit on inputs per embedding call.
const embedBatchSize = 100

// Embedder batches texts into provider-sized groups and concatenates the
// resulting vectors in input order. Batches are issued sequentially; the
// first failed batch aborts the whole call.
type Embedder struct {
	provider  IEmbedProvider
	model     string
	batchSize int
}

func NewEmbedder(provider IEmbedProvider, model string) *Embedder {
	return &Embedder{
		provider:  provider,
		model:     model,
		batchSize: embedBatchSize,
	}
}

func (e *Embedder) ModelName() string {
	return e.model
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.provider.EmbedBatch(ctx, e.model, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(batch))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
