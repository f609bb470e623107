package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/xxxsen/kbchat/internal/model"
)

type APIKeyRepo struct {
	db *sql.DB
}

func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo {
	return &APIKeyRepo{db: db}
}

// ListActive returns every active key. Key management happens in the admin
// surface; this side only reads.
func (r *APIKeyRepo) ListActive(ctx context.Context) ([]model.APIKey, error) {
	const query = `
		SELECT id, api_key, name, allowed_origins, is_active, ctime, last_used
		FROM api_keys WHERE is_active = 1
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []model.APIKey
	for rows.Next() {
		var key model.APIKey
		var active int
		if err := rows.Scan(&key.ID, &key.Key, &key.Name, &key.AllowedOrigins, &active, &key.Ctime, &key.LastUsed); err != nil {
			return nil, err
		}
		key.IsActive = active != 0
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepo) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}
