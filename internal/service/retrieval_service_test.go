package service

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/embedcache"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/repo"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := repo.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repo.ApplyMigrations(db))
	return db
}

// fixedEmbedProvider returns the same vector for every input.
type fixedEmbedProvider struct {
	vector []float32
	err    error
}

func (f *fixedEmbedProvider) Name() string { return "fixed" }

func (f *fixedEmbedProvider) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = f.vector
	}
	return vectors, nil
}

type testChunk struct {
	id        string
	embedding []float32
	tokens    int
}

func seedRetrieval(t *testing.T, db *sql.DB, seeds []testChunk) (*repo.ChunkRepo, *embedcache.Cache) {
	t.Helper()
	docs := repo.NewDocumentRepo(db)
	chunks := repo.NewChunkRepo(db)
	require.NoError(t, docs.Create(context.Background(), &model.Document{
		ID:       "doc1",
		Filename: "doc1.txt",
		MimeType: "text/plain",
		Status:   model.DocumentStatusProcessed,
		Ctime:    time.Now().Unix(),
	}))
	batch := make([]*model.Chunk, 0, len(seeds))
	for i, seed := range seeds {
		batch = append(batch, &model.Chunk{
			ID:         seed.id,
			DocumentID: "doc1",
			Content:    fmt.Sprintf("content of %s", seed.id),
			ChunkIndex: i,
			Embedding:  seed.embedding,
			TokenCount: seed.tokens,
			Metadata:   model.ChunkMetadata{SourceFile: "doc1.txt"},
		})
	}
	require.NoError(t, chunks.InsertBatch(context.Background(), batch))
	cache, err := embedcache.New(chunks, 100)
	require.NoError(t, err)
	require.NoError(t, cache.BulkLoad(context.Background()))
	return chunks, cache
}

func TestSearchRanksByThreshold(t *testing.T) {
	db := newTestDB(t)
	chunks, cache := seedRetrieval(t, db, []testChunk{
		{id: "exact", embedding: []float32{1, 0, 0}, tokens: 10},
		{id: "close", embedding: []float32{1, 1, 0}, tokens: 10},
		{id: "orthogonal", embedding: []float32{0, 1, 0}, tokens: 10},
		{id: "opposite", embedding: []float32{-1, 0, 0}, tokens: 10},
	})
	embedder := ai.NewEmbedder(&fixedEmbedProvider{vector: []float32{1, 0, 0}}, "m")
	svc := NewRetrievalService(embedder, chunks, cache, 3)

	results, err := svc.Search(context.Background(), "query", 0.5, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "exact", results[0].ID)
	require.Equal(t, "close", results[1].ID)
	require.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	require.InDelta(t, 0.7071, results[1].Similarity, 1e-3)
}

func TestSearchTopKLimit(t *testing.T) {
	db := newTestDB(t)
	seeds := make([]testChunk, 0, 8)
	for i := 0; i < 8; i++ {
		seeds = append(seeds, testChunk{
			id:        fmt.Sprintf("c%d", i),
			embedding: []float32{1, float32(i) * 0.05, 0},
			tokens:    10,
		})
	}
	chunks, cache := seedRetrieval(t, db, seeds)
	embedder := ai.NewEmbedder(&fixedEmbedProvider{vector: []float32{1, 0, 0}}, "m")
	svc := NewRetrievalService(embedder, chunks, cache, 3)

	results, err := svc.Search(context.Background(), "query", 0.5, 3, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "c0", results[0].ID)
}

func TestSearchBudgetSkipsOversizedChunks(t *testing.T) {
	db := newTestDB(t)
	chunks, cache := seedRetrieval(t, db, []testChunk{
		{id: "best", embedding: []float32{1, 0, 0}, tokens: 100},
		{id: "big", embedding: []float32{1, 0.2, 0}, tokens: 100},
		{id: "small", embedding: []float32{1, 0.4, 0}, tokens: 40},
	})
	embedder := ai.NewEmbedder(&fixedEmbedProvider{vector: []float32{1, 0, 0}}, "m")
	svc := NewRetrievalService(embedder, chunks, cache, 3)

	// "big" would blow the budget; the lower-scored "small" still fits.
	results, err := svc.Search(context.Background(), "query", 0.5, 3, 150)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "best", results[0].ID)
	require.Equal(t, "small", results[1].ID)
}

func TestSearchCoversChunksBeyondCacheCapacity(t *testing.T) {
	db := newTestDB(t)
	chunks, _ := seedRetrieval(t, db, []testChunk{
		{id: "a", embedding: []float32{1, 0, 0}, tokens: 10},
		{id: "b", embedding: []float32{1, 0.1, 0}, tokens: 10},
	})
	// A cache too small to hold the index must not hide persisted chunks.
	cache, err := embedcache.New(chunks, 1)
	require.NoError(t, err)
	require.NoError(t, cache.BulkLoad(context.Background()))
	require.Equal(t, 1, cache.Len())

	embedder := ai.NewEmbedder(&fixedEmbedProvider{vector: []float32{1, 0, 0}}, "m")
	svc := NewRetrievalService(embedder, chunks, cache, 3)

	results, err := svc.Search(context.Background(), "query", 0.5, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].ID)
	require.Equal(t, "b", results[1].ID)
}

func TestSearchEmptyIndex(t *testing.T) {
	db := newTestDB(t)
	chunks := repo.NewChunkRepo(db)
	cache, err := embedcache.New(chunks, 100)
	require.NoError(t, err)
	embedder := ai.NewEmbedder(&fixedEmbedProvider{vector: []float32{1, 0, 0}}, "m")
	svc := NewRetrievalService(embedder, chunks, cache, 3)

	results, err := svc.Search(context.Background(), "query", 0.5, 3, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchEmbedFailure(t *testing.T) {
	db := newTestDB(t)
	chunks, cache := seedRetrieval(t, db, []testChunk{
		{id: "a", embedding: []float32{1, 0, 0}, tokens: 10},
	})
	embedder := ai.NewEmbedder(&fixedEmbedProvider{err: fmt.Errorf("provider down")}, "m")
	svc := NewRetrievalService(embedder, chunks, cache, 3)

	_, err := svc.Search(context.Background(), "query", 0.5, 3, 0)
	require.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
