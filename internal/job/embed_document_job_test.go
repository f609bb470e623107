package job

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/embedcache"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/repo"
)

type stubEmbedProvider struct {
	err error
}

func (s *stubEmbedProvider) Name() string { return "stub" }

func (s *stubEmbedProvider) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1}
	}
	return vectors, nil
}

type fixture struct {
	docs    *repo.DocumentRepo
	chunks  *repo.ChunkRepo
	cache   *embedcache.Cache
	store   filestore.Store
	handler *EmbedDocumentHandler
}

func newFixture(t *testing.T, provider ai.IEmbedProvider) *fixture {
	t.Helper()
	db, err := repo.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repo.ApplyMigrations(db))

	docs := repo.NewDocumentRepo(db)
	chunks := repo.NewChunkRepo(db)
	cache, err := embedcache.New(chunks, 1000)
	require.NoError(t, err)
	store, err := filestore.New("local", map[string]interface{}{"dir": t.TempDir()})
	require.NoError(t, err)
	embedder := ai.NewEmbedder(provider, "m")
	return &fixture{
		docs:    docs,
		chunks:  chunks,
		cache:   cache,
		store:   store,
		handler: NewEmbedDocumentHandler(docs, chunks, cache, store, embedder),
	}
}

func (f *fixture) seedUpload(t *testing.T, filename, content string) (string, json.RawMessage) {
	t.Helper()
	ctx := context.Background()
	fileKey := "upload-" + filename
	require.NoError(t, f.store.Save(ctx, fileKey, strings.NewReader(content), int64(len(content))))
	doc := &model.Document{
		ID:       "doc_" + filename,
		Filename: filename,
		MimeType: "text/plain",
		Status:   model.DocumentStatusQueued,
		FileSize: int64(len(content)),
		Ctime:    time.Now().Unix(),
	}
	require.NoError(t, f.docs.Create(ctx, doc))
	payload, err := json.Marshal(&model.EmbedDocumentPayload{
		DocumentID:       doc.ID,
		FileKey:          fileKey,
		OriginalFilename: filename,
	})
	require.NoError(t, err)
	return doc.ID, payload
}

func TestHandleIngestsDocument(t *testing.T) {
	f := newFixture(t, &stubEmbedProvider{})
	ctx := context.Background()
	content := strings.Repeat("useful knowledge base sentence. ", 10)
	docID, payload := f.seedUpload(t, "kb.txt", content)

	require.NoError(t, f.handler.Handle(ctx, payload))

	doc, err := f.docs.Get(ctx, docID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusProcessed, doc.Status)
	require.Equal(t, 1, doc.ChunkCount)
	require.Equal(t, 1, doc.ChunksProcessed)

	count, err := f.chunks.CountByDocument(ctx, docID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	chunkID := fmt.Sprintf("%s_c%04d", docID, 0)
	vec, err := f.chunks.GetEmbedding(ctx, chunkID)
	require.NoError(t, err)
	require.Len(t, vec, 2)

	cached, err := f.cache.Get(ctx, chunkID)
	require.NoError(t, err)
	require.Equal(t, vec, cached)

	// The stored upload is cleaned up after a successful run.
	_, err = f.store.Open(ctx, "upload-kb.txt")
	require.Error(t, err)
}

func TestHandleRecordsExtractionFailure(t *testing.T) {
	f := newFixture(t, &stubEmbedProvider{})
	ctx := context.Background()
	docID, payload := f.seedUpload(t, "kb.txt", "whatever")

	// Remove the stored file so the fetch step fails.
	require.NoError(t, f.store.Delete(ctx, "upload-kb.txt"))

	err := f.handler.Handle(ctx, payload)
	require.Error(t, err)

	doc, derr := f.docs.Get(ctx, docID)
	require.NoError(t, derr)
	require.Equal(t, model.DocumentStatusError, doc.Status)
	require.NotEmpty(t, doc.ErrorMessage)
}

func TestHandleEmbedFailureKeepsUploadForRetry(t *testing.T) {
	f := newFixture(t, &stubEmbedProvider{err: fmt.Errorf("provider down")})
	ctx := context.Background()
	content := strings.Repeat("embedding should fail for this text. ", 5)
	docID, payload := f.seedUpload(t, "kb.txt", content)

	err := f.handler.Handle(ctx, payload)
	require.Error(t, err)

	doc, derr := f.docs.Get(ctx, docID)
	require.NoError(t, derr)
	require.Equal(t, model.DocumentStatusError, doc.Status)

	// The upload stays in the store so a retry can re-fetch it.
	rc, oerr := f.store.Open(ctx, "upload-kb.txt")
	require.NoError(t, oerr)
	rc.Close()
}

func TestHandleMissingDocumentIsNoop(t *testing.T) {
	f := newFixture(t, &stubEmbedProvider{})
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, "orphan.txt", strings.NewReader("orphaned upload data"), 20))
	payload, _ := json.Marshal(&model.EmbedDocumentPayload{
		DocumentID:       "doc_missing",
		FileKey:          "orphan.txt",
		OriginalFilename: "orphan.txt",
	})
	require.NoError(t, f.handler.Handle(ctx, payload))

	_, err := f.store.Open(ctx, "orphan.txt")
	require.Error(t, err)
}

func TestHandleEmptyDocumentProcessesZeroChunks(t *testing.T) {
	f := newFixture(t, &stubEmbedProvider{})
	ctx := context.Background()
	docID, payload := f.seedUpload(t, "tiny.txt", "too short")

	require.NoError(t, f.handler.Handle(ctx, payload))

	doc, err := f.docs.Get(ctx, docID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusProcessed, doc.Status)
	require.Zero(t, doc.ChunkCount)
}
