package models

import (
	"strings"
	"time"
)

// Explanation is the generated natural-language analysis of a log.
type Explanation struct {
	Content        string        `json:"content"`
	TokenUsage     *TokenUsage   `json:"tokenUsage,omitempty"`
	ProcessingTime time.Duration `json:"processingTime"`
}

// Usable reports whether the explanation carries content worth serving.
func (e Explanation) Usable() bool {
	return strings.TrimSpace(e.Content) != ""
}

// Generation is the raw output of one backend call.
type Generation struct {
	Text string
	// Usage is nil when the backend did not report token counts.
	Usage *TokenUsage
}
