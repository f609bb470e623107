// Package job holds the background job handlers run by the job queue.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/chunker"
	"github.com/xxxsen/kbchat/internal/embedcache"
	"github.com/xxxsen/kbchat/internal/extract"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/repo"
)

// embedWriteBatch is how many chunks get embedded and persisted per round,
// with progress written after each round.
const embedWriteBatch = 100

// EmbedDocumentHandler ingests one uploaded document: extract, chunk,
// embed, persist. Progress lands on the document row so status polling
// sees partial completion.
type EmbedDocumentHandler struct {
	docs     *repo.DocumentRepo
	chunks   *repo.ChunkRepo
	cache    *embedcache.Cache
	store    filestore.Store
	embedder *ai.Embedder
	chunker  *chunker.Chunker
}

func NewEmbedDocumentHandler(
	docs *repo.DocumentRepo,
	chunks *repo.ChunkRepo,
	cache *embedcache.Cache,
	store filestore.Store,
	embedder *ai.Embedder,
) *EmbedDocumentHandler {
	return &EmbedDocumentHandler{
		docs:     docs,
		chunks:   chunks,
		cache:    cache,
		store:    store,
		embedder: embedder,
		chunker:  chunker.New(),
	}
}

func (h *EmbedDocumentHandler) Handle(ctx context.Context, payload json.RawMessage) error {
	var req model.EmbedDocumentPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", req.DocumentID))

	doc, err := h.docs.Get(ctx, req.DocumentID)
	if appErr.IsNotFound(err) {
		// Document deleted before the job ran; drop the stored file.
		logger.Info("document gone, skipping ingestion")
		h.cleanupStored(ctx, req.FileKey)
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.process(ctx, doc, &req); err != nil {
		if serr := h.docs.SetError(ctx, doc.ID, err.Error()); serr != nil {
			logger.Warn("record document error failed", zap.Error(serr))
		}
		return err
	}
	h.cleanupStored(ctx, req.FileKey)
	return nil
}

func (h *EmbedDocumentHandler) process(ctx context.Context, doc *model.Document, req *model.EmbedDocumentPayload) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", doc.ID))

	if err := h.docs.SetStatus(ctx, doc.ID, model.DocumentStatusProcessing); err != nil {
		return err
	}

	path, err := h.fetchToTemp(ctx, req.FileKey)
	if err != nil {
		return fmt.Errorf("fetch upload: %w", err)
	}
	defer os.Remove(path)

	extracted, err := extract.FromFile(path, doc.MimeType, req.OriginalFilename)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if err := h.docs.SetRawText(ctx, doc.ID, extracted.Text); err != nil {
		return err
	}

	chunks := h.chunker.Chunk(extracted, req.OriginalFilename)
	if err := h.docs.SetChunkCount(ctx, doc.ID, len(chunks)); err != nil {
		return err
	}
	if len(chunks) == 0 {
		logger.Warn("document produced no chunks")
		return h.docs.MarkProcessed(ctx, doc.ID, 0)
	}

	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("%s_c%04d", doc.ID, chunks[i].ChunkIndex)
		chunks[i].DocumentID = doc.ID
	}

	processed := 0
	for start := 0; start < len(chunks); start += embedWriteBatch {
		end := start + embedWriteBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, 0, len(batch))
		for _, chunk := range batch {
			texts = append(texts, chunk.Content)
		}
		vectors, err := h.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		refs := make([]*model.Chunk, 0, len(batch))
		for i := range batch {
			batch[i].Embedding = vectors[i]
			refs = append(refs, &batch[i])
		}
		if err := h.chunks.InsertBatch(ctx, refs); err != nil {
			return err
		}
		for _, chunk := range batch {
			h.cache.Set(chunk.ID, chunk.Embedding)
		}
		processed = end
		if err := h.docs.SetChunksProcessed(ctx, doc.ID, processed); err != nil {
			return err
		}
	}

	logger.Info("document ingested", zap.Int("chunks", len(chunks)))
	return h.docs.MarkProcessed(ctx, doc.ID, len(chunks))
}

// fetchToTemp copies the stored upload to a temp file so extraction can
// work on a seekable path.
func (h *EmbedDocumentHandler) fetchToTemp(ctx context.Context, fileKey string) (string, error) {
	src, err := h.store.Open(ctx, fileKey)
	if err != nil {
		return "", err
	}
	defer src.Close()
	tmp, err := os.CreateTemp("", "kbchat-ingest-*"+filepath.Ext(fileKey))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (h *EmbedDocumentHandler) cleanupStored(ctx context.Context, fileKey string) {
	if err := h.store.Delete(ctx, fileKey); err != nil {
		logutil.GetLogger(ctx).Warn("delete stored upload failed", zap.String("file_key", fileKey), zap.Error(err))
	}
}
