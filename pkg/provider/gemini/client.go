// Package gemini is a client for the Gemini generateContent API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/metrics"
	"github.com/qa-agent/logexplain/pkg/models"
	"github.com/qa-agent/logexplain/pkg/upstream"
)

const providerName = "gemini"

// Client calls generateContent for a single model.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *upstream.Client
	metrics *metrics.Recorder
}

// New creates a Client from provider configuration.
func New(cfg config.ProviderConfig, log *zap.Logger, rec *metrics.Recorder) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required (set GEMINI_API_KEY)")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini: model required")
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    upstream.New(providerName, log),
		metrics: rec,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends prompt as a single user turn and returns the first
// candidate's text. Usage is nil when the response carries no usageMetadata.
func (c *Client) Generate(ctx context.Context, prompt string, gen models.GenerationConfig) (models.Generation, error) {
	start := time.Now()
	out, err := c.generate(ctx, prompt, gen)
	c.metrics.ObserveBackendCall(providerName, err, time.Since(start))
	return out, err
}

func (c *Client) generate(ctx context.Context, prompt string, gen models.GenerationConfig) (models.Generation, error) {
	body, err := json.Marshal(models.GeminiRequest{
		Contents: []models.GeminiContent{{
			Role:  "user",
			Parts: []models.GeminiPart{{Text: prompt}},
		}},
		GenerationConfig: gen,
	})
	if err != nil {
		return models.Generation{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	res, err := c.http.Do(ctx, upstream.Request{
		BaseURL:     c.baseURL,
		Path:        "/v1beta/models/" + url.PathEscape(c.model) + ":generateContent",
		ContentType: "application/json",
		Headers:     map[string]string{"x-goog-api-key": c.apiKey},
		Body:        body,
		Idempotent:  true,
	})
	if err != nil {
		return models.Generation{}, err
	}
	if !res.OK() {
		return models.Generation{}, errorFrom(res)
	}

	var resp models.GeminiResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		return models.Generation{}, fmt.Errorf("gemini: %w: %v", models.ErrDecode, err)
	}

	out := models.Generation{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		model := resp.ModelVersion
		if model == "" {
			model = c.model
		}
		out.Usage = resp.UsageMetadata.ToUsage(model)
	}
	return out, nil
}

// errorFrom prefers the message from Gemini's error envelope.
func errorFrom(res *upstream.Result) error {
	var env models.GeminiError
	if err := json.Unmarshal(res.Body, &env); err == nil && env.Error.Message != "" {
		return &models.ProviderError{Provider: providerName, StatusCode: res.StatusCode, Message: env.Error.Message}
	}
	return res.Err(providerName)
}
