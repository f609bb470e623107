package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Session struct {
	ID         string `json:"id"`
	APIKeyID   string `json:"api_key_id"`
	Origin     string `json:"origin,omitempty"`
	Ctime      int64  `json:"ctime"`
	LastActive int64  `json:"last_active"`
}

type Message struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
	Ctime      int64  `json:"ctime"`
}
