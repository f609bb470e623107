package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

var documentColumns = []string{
	"id", "filename", "mime_type", "status", "chunk_count",
	"chunks_processed", "error_message", "file_size", "ctime",
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":               doc.ID,
		"filename":         doc.Filename,
		"mime_type":        doc.MimeType,
		"status":           doc.Status,
		"chunk_count":      doc.ChunkCount,
		"chunks_processed": doc.ChunksProcessed,
		"error_message":    doc.ErrorMessage,
		"raw_text":         doc.RawText,
		"file_size":        doc.FileSize,
		"ctime":            doc.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (*model.Document, error) {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var doc model.Document
	if err := row.Scan(
		&doc.ID, &doc.Filename, &doc.MimeType, &doc.Status, &doc.ChunkCount,
		&doc.ChunksProcessed, &doc.ErrorMessage, &doc.FileSize, &doc.Ctime,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepo) List(ctx context.Context, limit, offset int) ([]model.Document, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, err
	}
	const query = `
		SELECT id, filename, mime_type, status, chunk_count, chunks_processed, error_message, file_size, ctime
		FROM documents ORDER BY ctime DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var docs []model.Document
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(
			&doc.ID, &doc.Filename, &doc.MimeType, &doc.Status, &doc.ChunkCount,
			&doc.ChunksProcessed, &doc.ErrorMessage, &doc.FileSize, &doc.Ctime,
		); err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *DocumentRepo) update(ctx context.Context, id string, fields map[string]interface{}) error {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildUpdate("documents", where, fields)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) SetStatus(ctx context.Context, id, status string) error {
	return r.update(ctx, id, map[string]interface{}{"status": status})
}

func (r *DocumentRepo) SetError(ctx context.Context, id, message string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":        model.DocumentStatusError,
		"error_message": message,
	})
}

func (r *DocumentRepo) SetRawText(ctx context.Context, id, text string) error {
	return r.update(ctx, id, map[string]interface{}{"raw_text": text})
}

func (r *DocumentRepo) SetChunkCount(ctx context.Context, id string, count int) error {
	return r.update(ctx, id, map[string]interface{}{"chunk_count": count})
}

func (r *DocumentRepo) SetChunksProcessed(ctx context.Context, id string, processed int) error {
	return r.update(ctx, id, map[string]interface{}{"chunks_processed": processed})
}

func (r *DocumentRepo) MarkProcessed(ctx context.Context, id string, chunkCount int) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":      model.DocumentStatusProcessed,
		"chunk_count": chunkCount,
	})
}
