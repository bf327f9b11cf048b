package models

import "time"

// TokenUsage reports token counts for a single generation.
type TokenUsage struct {
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	Model            string    `json:"model"`
	Timestamp        time.Time `json:"timestamp"`
}

// charsPerToken is the heuristic used when a provider does not report usage.
const charsPerToken = 4

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateUsage builds a TokenUsage from prompt and completion text.
func EstimateUsage(model, prompt, completion string, at time.Time) *TokenUsage {
	p := EstimateTokens(prompt)
	c := EstimateTokens(completion)
	return &TokenUsage{
		PromptTokens:     p,
		CompletionTokens: c,
		TotalTokens:      p + c,
		Model:            model,
		Timestamp:        at,
	}
}
