package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, sess *model.Session) error {
	data := map[string]interface{}{
		"id":          sess.ID,
		"api_key_id":  sess.APIKeyID,
		"origin":      sess.Origin,
		"ctime":       sess.Ctime,
		"last_active": sess.LastActive,
	}
	sqlStr, args, err := builder.BuildInsert("sessions", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// Get resolves a session only when owned by the given api key; a session
// owned by another caller is indistinguishable from a missing one.
func (r *SessionRepo) Get(ctx context.Context, id, apiKeyID string) (*model.Session, error) {
	where := map[string]interface{}{
		"id":         id,
		"api_key_id": apiKeyID,
	}
	sqlStr, args, err := builder.BuildSelect("sessions", where, []string{"id", "api_key_id", "origin", "ctime", "last_active"})
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var sess model.Session
	if err := row.Scan(&sess.ID, &sess.APIKeyID, &sess.Origin, &sess.Ctime, &sess.LastActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (r *SessionRepo) TouchLastActive(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_active = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

// Delete removes the session when owned by the caller; messages cascade.
func (r *SessionRepo) Delete(ctx context.Context, id, apiKeyID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND api_key_id = ?`, id, apiKeyID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
