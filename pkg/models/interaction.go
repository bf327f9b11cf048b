package models

import "time"

// Interaction is a persisted log/explanation exchange.
type Interaction struct {
	ID         string    `json:"id"`
	UserQuery  string    `json:"user_query"`
	AIResponse string    `json:"ai_response"`
	Context    string    `json:"context"`
	Metadata   string    `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
}

// InteractionMetadata is serialized into Interaction.Metadata.
type InteractionMetadata struct {
	LogPath          string      `json:"log_path"`
	CacheHit         bool        `json:"cache_hit"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	TokenUsage       *TokenUsage `json:"token_usage,omitempty"`
}
