package model

type APIKey struct {
	ID             string `json:"id"`
	Key            string `json:"-"`
	Name           string `json:"name"`
	AllowedOrigins string `json:"allowed_origins"`
	IsActive       bool   `json:"is_active"`
	Ctime          int64  `json:"ctime"`
	LastUsed       int64  `json:"last_used,omitempty"`
}
