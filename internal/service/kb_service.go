package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/embedcache"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/jobqueue"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/repo"
)

// MaxUploadBytes caps document uploads at 10MB.
const MaxUploadBytes = 10 << 20

var allowedExtensions = map[string]string{
	".pdf": "application/pdf",
	".txt": "text/plain",
	".md":  "text/markdown",
}

// KBService owns the document lifecycle: upload, async ingestion handoff,
// status, and removal with cache invalidation.
type KBService struct {
	docs   *repo.DocumentRepo
	chunks *repo.ChunkRepo
	cache  *embedcache.Cache
	queue  *jobqueue.Queue
	store  filestore.Store

	retrieval *RetrievalService
	topK      int
}

func NewKBService(
	docs *repo.DocumentRepo,
	chunks *repo.ChunkRepo,
	cache *embedcache.Cache,
	queue *jobqueue.Queue,
	store filestore.Store,
	retrieval *RetrievalService,
	topK int,
) *KBService {
	return &KBService{
		docs:      docs,
		chunks:    chunks,
		cache:     cache,
		queue:     queue,
		store:     store,
		retrieval: retrieval,
		topK:      topK,
	}
}

// CreateDocument stores the uploaded file, records a queued document and
// enqueues the ingestion job. The response carries the queued record;
// processing happens on the job queue.
func (s *KBService) CreateDocument(ctx context.Context, filename string, size int64, r io.ReadSeeker) (*model.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mimeType, ok := allowedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type %s", appErr.ErrInvalidFile, ext)
	}
	if size <= 0 || size > MaxUploadBytes {
		return nil, fmt.Errorf("%w: file size %d out of range", appErr.ErrInvalidFile, size)
	}

	fileKey := uuid.NewString() + ext
	if err := s.store.Save(ctx, fileKey, r, size); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc := &model.Document{
		ID:       newID("doc"),
		Filename: filename,
		MimeType: mimeType,
		Status:   model.DocumentStatusQueued,
		FileSize: size,
		Ctime:    time.Now().Unix(),
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if derr := s.store.Delete(ctx, fileKey); derr != nil {
			logutil.GetLogger(ctx).Warn("cleanup stored upload failed", zap.String("file_key", fileKey), zap.Error(derr))
		}
		return nil, err
	}

	jobID, err := s.queue.Enqueue(ctx, model.JobTypeEmbedDocument, &model.EmbedDocumentPayload{
		DocumentID:       doc.ID,
		FileKey:          fileKey,
		OriginalFilename: filename,
	})
	if err != nil {
		_ = s.docs.SetError(ctx, doc.ID, "failed to enqueue ingestion job")
		return nil, err
	}
	logutil.GetLogger(ctx).Info("document queued",
		zap.String("document_id", doc.ID),
		zap.String("job_id", jobID),
		zap.String("filename", filename),
		zap.Int64("size", size))
	return doc, nil
}

func (s *KBService) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return s.docs.Get(ctx, id)
}

// GetStatus reports ingestion progress for polling clients.
func (s *KBService) GetStatus(ctx context.Context, id string) (*model.DocumentStatus, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.DocumentStatus{
		ID:              doc.ID,
		Status:          doc.Status,
		ChunksTotal:     doc.ChunkCount,
		ChunksProcessed: doc.ChunksProcessed,
		Error:           doc.ErrorMessage,
	}, nil
}

func (s *KBService) ListDocuments(ctx context.Context, limit, offset int) ([]model.Document, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.docs.List(ctx, limit, offset)
}

// DeleteDocument drops the document and its chunks, evicting cached
// embeddings first so retrieval never scores vectors of deleted chunks.
func (s *KBService) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.docs.Get(ctx, id); err != nil {
		return err
	}
	if err := s.cache.InvalidateDocument(ctx, id); err != nil {
		return err
	}
	deleted, err := s.docs.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return appErr.ErrNotFound
	}
	return nil
}

// Search exposes raw retrieval with no score threshold and no token
// budget, for tuning and debugging knowledge bases.
func (s *KBService) Search(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = s.topK
	}
	return s.retrieval.Search(ctx, query, 0, topK, 0)
}
