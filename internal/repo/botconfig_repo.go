package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/kbchat/internal/model"
)

type BotConfigRepo struct {
	db *sql.DB
}

func NewBotConfigRepo(db *sql.DB) *BotConfigRepo {
	return &BotConfigRepo{db: db}
}

// Get reads the single bot configuration row. The row is seeded by the
// initial migration, so a missing row is a defaults fallback, not an error.
func (r *BotConfigRepo) Get(ctx context.Context) (*model.BotConfig, error) {
	const query = `
		SELECT bot_name, system_prompt, welcome_message, model, temperature, max_tokens, similarity_threshold
		FROM bot_config WHERE id = 'default'
	`
	row := r.db.QueryRowContext(ctx, query)
	var cfg model.BotConfig
	if err := row.Scan(
		&cfg.BotName, &cfg.SystemPrompt, &cfg.WelcomeMessage, &cfg.Model,
		&cfg.Temperature, &cfg.MaxTokens, &cfg.SimilarityThreshold,
	); err != nil {
		if err == sql.ErrNoRows {
			return defaultBotConfig(), nil
		}
		return nil, err
	}
	return &cfg, nil
}

func defaultBotConfig() *model.BotConfig {
	return &model.BotConfig{
		BotName:             "Assistant",
		SystemPrompt:        "You are a helpful assistant.",
		WelcomeMessage:      "Hi! How can I help you today?",
		Model:               "gpt-4o-mini",
		Temperature:         0.7,
		MaxTokens:           500,
		SimilarityThreshold: 0.7,
	}
}
