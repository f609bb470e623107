package model

// BotConfig is managed by the admin surface and consumed read-only here.
type BotConfig struct {
	BotName             string  `json:"bot_name"`
	SystemPrompt        string  `json:"system_prompt"`
	WelcomeMessage      string  `json:"welcome_message"`
	Model               string  `json:"model"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           int     `json:"max_tokens"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}
