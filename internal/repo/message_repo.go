package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbchat/internal/model"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Insert(ctx context.Context, msg *model.Message) error {
	data := map[string]interface{}{
		"id":          msg.ID,
		"session_id":  msg.SessionID,
		"role":        msg.Role,
		"content":     msg.Content,
		"token_count": msg.TokenCount,
		"ctime":       msg.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("messages", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListBySession returns the session's messages in creation order. The id
// tiebreak keeps same-second turns stable.
func (r *MessageRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	const query = `
		SELECT id, session_id, role, content, token_count, ctime
		FROM messages WHERE session_id = ? ORDER BY ctime ASC, rowid ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.TokenCount, &msg.Ctime); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
