package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/embedcache"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/repo"
)

type ScoredChunk struct {
	model.Chunk
	Similarity float64 `json:"similarity"`
}

// RetrievalService scores the query against every stored chunk embedding,
// served from the cache where possible, then materializes only the top
// candidates from the store.
type RetrievalService struct {
	embedder  *ai.Embedder
	chunks    *repo.ChunkRepo
	cache     *embedcache.Cache
	overFetch int
}

func NewRetrievalService(embedder *ai.Embedder, chunks *repo.ChunkRepo, cache *embedcache.Cache, overFetch int) *RetrievalService {
	if overFetch <= 0 {
		overFetch = 3
	}
	return &RetrievalService{
		embedder:  embedder,
		chunks:    chunks,
		cache:     cache,
		overFetch: overFetch,
	}
}

// Search returns up to topK chunks scoring at least threshold against the
// query, best first. When tokenBudget is positive, chunks that would push
// the running token total past the budget are skipped, not truncated, and
// scanning continues with lower-scored candidates.
func (s *RetrievalService) Search(ctx context.Context, query string, threshold float64, topK, tokenBudget int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryVec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		id    string
		score float64
	}
	// The scan covers every persisted embedding, not just what survived in
	// the cache. Per-id misses fall through to the store and repopulate it.
	ids, err := s.chunks.ListEmbeddedIDs(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []scored
	for _, id := range ids {
		values, err := s.cache.Get(ctx, id)
		if err != nil {
			if appErr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		score := cosineSimilarity(queryVec, values)
		if score >= threshold {
			candidates = append(candidates, scored{id: id, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// Over-fetch so the budget pass has spares when big chunks get skipped.
	fetch := topK * s.overFetch
	if fetch > len(candidates) {
		fetch = len(candidates)
	}
	candidates = candidates[:fetch]

	ids = make([]string, 0, len(candidates))
	for _, cand := range candidates {
		ids = append(ids, cand.id)
	}
	chunks, err := s.chunks.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}

	var results []ScoredChunk
	usedTokens := 0
	for _, cand := range candidates {
		chunk, ok := byID[cand.id]
		if !ok {
			continue
		}
		if tokenBudget > 0 && usedTokens+chunk.TokenCount > tokenBudget {
			continue
		}
		usedTokens += chunk.TokenCount
		results = append(results, ScoredChunk{Chunk: chunk, Similarity: cand.score})
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

// cosineSimilarity accumulates in float64 to keep long vectors stable.
// Returns 0 for mismatched lengths or zero-norm inputs.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
