package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	DBPath    string           `json:"db_path"`
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	FileStore FileStoreConfig  `json:"file_store"`
	AI        AIConfig         `json:"ai"`
	Queue     QueueConfig      `json:"queue"`
	Cache     CacheConfig      `json:"cache"`
	Retrieval RetrievalConfig  `json:"retrieval"`
	Chat      ChatConfig       `json:"chat"`
	CORS      []string         `json:"cors_allowlist"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIConfig struct {
	Provider   string      `json:"provider"`
	EmbedModel string      `json:"embed_model"`
	Data       interface{} `json:"data"`
}

type QueueConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	MaxAttempts         int `json:"max_attempts"`
}

type CacheConfig struct {
	Capacity int `json:"capacity"`
}

type RetrievalConfig struct {
	TopK               int `json:"top_k"`
	ContextTokenBudget int `json:"context_token_budget"`
	OverFetchFactor    int `json:"over_fetch_factor"`
}

type ChatConfig struct {
	MaxMessageChars    int `json:"max_message_chars"`
	HistoryTokenBudget int `json:"history_token_budget"`
	MaxHistoryMessages int `json:"max_history_messages"`
	MaxStreamsPerKey   int `json:"max_streams_per_key"`
	RatePerMinute      int `json:"rate_per_minute"`
	UploadRatePerMin   int `json:"upload_rate_per_minute"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.AI.Provider == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.EmbedModel == "" {
		cfg.AI.EmbedModel = "text-embedding-3-small"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		return nil, fmt.Errorf("file_store.type is required")
	}
	if cfg.Queue.PollIntervalSeconds <= 0 {
		cfg.Queue.PollIntervalSeconds = 2
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Cache.Capacity <= 0 {
		cfg.Cache.Capacity = 50000
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.ContextTokenBudget <= 0 {
		cfg.Retrieval.ContextTokenBudget = 3000
	}
	if cfg.Retrieval.OverFetchFactor <= 0 {
		cfg.Retrieval.OverFetchFactor = 3
	}
	if cfg.Chat.MaxMessageChars <= 0 {
		cfg.Chat.MaxMessageChars = 2000
	}
	if cfg.Chat.HistoryTokenBudget <= 0 {
		cfg.Chat.HistoryTokenBudget = 4000
	}
	if cfg.Chat.MaxHistoryMessages <= 0 {
		cfg.Chat.MaxHistoryMessages = 20
	}
	if cfg.Chat.MaxStreamsPerKey <= 0 {
		cfg.Chat.MaxStreamsPerKey = 5
	}
	if cfg.Chat.RatePerMinute <= 0 {
		cfg.Chat.RatePerMinute = 60
	}
	if cfg.Chat.UploadRatePerMin <= 0 {
		cfg.Chat.UploadRatePerMin = 10
	}
	return &cfg, nil
}
