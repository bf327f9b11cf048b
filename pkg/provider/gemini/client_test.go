package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/metrics"
	"github.com/qa-agent/logexplain/pkg/models"
)

var testGen = models.GenerationConfig{Temperature: 0.7, MaxOutputTokens: 1024, TopP: 0.8, TopK: 40}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(config.ProviderConfig{URL: srv.URL, APIKey: "test-key", Model: "gemini-1.5-flash"}, nil, metrics.NewRecorder(nil))
	require.NoError(t, err)
	c.http.Backoff = 0
	return c
}

func TestNewValidates(t *testing.T) {
	_, err := New(config.ProviderConfig{Model: "m"}, nil, nil)
	require.Error(t, err)
	_, err = New(config.ProviderConfig{APIKey: "k"}, nil, nil)
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req models.GeminiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Contents, 1) {
			assert.Equal(t, "user", req.Contents[0].Role)
			assert.Equal(t, "why did it fail?", req.Contents[0].Parts[0].Text)
		}
		assert.Equal(t, testGen, req.GenerationConfig)

		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"The cart "},{"text":"was null."}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":5,"totalTokenCount":17},
			"modelVersion":"gemini-1.5-flash-002"
		}`))
	})

	out, err := c.Generate(context.Background(), "why did it fail?", testGen)
	require.NoError(t, err)
	assert.Equal(t, "The cart was null.", out.Text)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 12, out.Usage.PromptTokens)
	assert.Equal(t, 5, out.Usage.CompletionTokens)
	assert.Equal(t, 17, out.Usage.TotalTokens)
	assert.Equal(t, "gemini-1.5-flash-002", out.Usage.Model)
}

func TestGenerateWithoutUsage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	})

	out, err := c.Generate(context.Background(), "p", testGen)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Nil(t, out.Usage)
}

func TestGenerateNoCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	out, err := c.Generate(context.Background(), "p", testGen)
	require.NoError(t, err)
	assert.Empty(t, out.Text)
}

func TestGenerateErrorEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := c.Generate(context.Background(), "p", testGen)
	require.Error(t, err)
	var pe *models.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "API key not valid", pe.Message)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestGenerateMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := c.Generate(context.Background(), "p", testGen)
	assert.ErrorIs(t, err, models.ErrDecode)
}
