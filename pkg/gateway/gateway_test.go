package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qa-agent/logexplain/pkg/cache"
	"github.com/qa-agent/logexplain/pkg/cache/file"
	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/models"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	text    string
	usage   *models.TokenUsage
	err     error
	block   bool
}

func (f *fakeBackend) Generate(ctx context.Context, prompt string, _ models.GenerationConfig) (models.Generation, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return models.Generation{}, ctx.Err()
	}
	if f.err != nil {
		return models.Generation{}, f.err
	}
	return models.Generation{Text: f.text, Usage: f.usage}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Gateway.RequestsPerMinute = 0
	return cfg
}

func newCache(t *testing.T, dir string) *cache.Cache {
	t.Helper()
	store, err := file.New(dir)
	require.NoError(t, err)
	c, err := cache.New(store)
	require.NoError(t, err)
	return c
}

func newGateway(t *testing.T, b Backend, cfg *config.Config) (*Gateway, string) {
	t.Helper()
	dir := t.TempDir()
	g, err := New(b, newCache(t, dir), cfg, nil)
	require.NoError(t, err)
	return g, dir
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, testConfig(), nil)
	require.Error(t, err)
}

func TestExplainCachesResult(t *testing.T) {
	b := &fakeBackend{text: "The checkout button was never rendered."}
	g, dir := newGateway(t, b, testConfig())
	ctx := context.Background()
	log := "CypressError: Timed out retrying after 4000ms: Expected to find element: #checkout"

	first, hit, err := g.Explain(ctx, log)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "The checkout button was never rendered.", first.Content)

	second, hit, err := g.Explain(ctx, log)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, b.calls)

	// a fresh process reading the same cache directory
	restarted, err := New(b, newCache(t, dir), testConfig(), nil)
	require.NoError(t, err)
	_, hit, err = restarted.Explain(ctx, log)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, b.calls)
}

func TestExplainDistinctLogs(t *testing.T) {
	b := &fakeBackend{text: "explained"}
	g, _ := newGateway(t, b, testConfig())

	_, _, err := g.Explain(context.Background(), "error A")
	require.NoError(t, err)
	_, _, err = g.Explain(context.Background(), "error B")
	require.NoError(t, err)
	assert.Equal(t, 2, b.calls)
}

func TestExplainBuildsTruncatedPrompt(t *testing.T) {
	b := &fakeBackend{text: "ok"}
	cfg := testConfig()
	cfg.Gateway.MaxInputChars = 10
	g, _ := newGateway(t, b, cfg)

	_, _, err := g.Explain(context.Background(), "ééééééééééXXXXXXXX")
	require.NoError(t, err)
	require.Len(t, b.prompts, 1)
	assert.Equal(t, promptPrefix+"éééééééééé", b.prompts[0])
}

func TestExplainEstimatesUsage(t *testing.T) {
	b := &fakeBackend{text: strings.Repeat("a", 40)}
	g, _ := newGateway(t, b, testConfig())

	exp, _, err := g.Explain(context.Background(), "boom")
	require.NoError(t, err)
	require.NotNil(t, exp.TokenUsage)
	assert.Equal(t, models.EstimateTokens(promptPrefix+"boom"), exp.TokenUsage.PromptTokens)
	assert.Equal(t, 10, exp.TokenUsage.CompletionTokens)
	assert.Equal(t, exp.TokenUsage.PromptTokens+10, exp.TokenUsage.TotalTokens)
	assert.Equal(t, "gemini-1.5-flash", exp.TokenUsage.Model)
	assert.False(t, exp.TokenUsage.Timestamp.IsZero())
}

func TestExplainKeepsReportedUsage(t *testing.T) {
	b := &fakeBackend{text: "ok", usage: &models.TokenUsage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10, Model: "gemini-1.5-flash-002"}}
	g, _ := newGateway(t, b, testConfig())

	exp, _, err := g.Explain(context.Background(), "boom")
	require.NoError(t, err)
	assert.Equal(t, 10, exp.TokenUsage.TotalTokens)
	assert.Equal(t, "gemini-1.5-flash-002", exp.TokenUsage.Model)
}

func TestExplainEmptyResultNotCached(t *testing.T) {
	b := &fakeBackend{text: "  \n "}
	g, _ := newGateway(t, b, testConfig())
	ctx := context.Background()

	_, _, err := g.Explain(ctx, "boom")
	assert.ErrorIs(t, err, models.ErrEmptyResult)

	_, _, err = g.Explain(ctx, "boom")
	assert.ErrorIs(t, err, models.ErrEmptyResult)
	assert.Equal(t, 2, b.calls)
}

func TestExplainBackendError(t *testing.T) {
	b := &fakeBackend{err: &models.ProviderError{Provider: "gemini", StatusCode: 401, Message: "bad key"}}
	g, _ := newGateway(t, b, testConfig())

	_, _, err := g.Explain(context.Background(), "boom")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAuth)
}

func TestExplainTimeout(t *testing.T) {
	b := &fakeBackend{block: true}
	cfg := testConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	g, _ := newGateway(t, b, cfg)

	_, _, err := g.Explain(context.Background(), "boom")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTimeout)
}

func TestExplainRateLimitBeyondDeadline(t *testing.T) {
	b := &fakeBackend{text: "ok"}
	cfg := testConfig()
	cfg.Gateway.RequestsPerMinute = 1
	cfg.CallTimeout = 50 * time.Millisecond
	g, _ := newGateway(t, b, cfg)
	ctx := context.Background()

	_, _, err := g.Explain(ctx, "first")
	require.NoError(t, err)

	_, _, err = g.Explain(ctx, "second")
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.Equal(t, 1, b.calls)
}

func TestExplainCanceled(t *testing.T) {
	b := &fakeBackend{text: "ok"}
	g, _ := newGateway(t, b, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := g.Explain(ctx, "boom")
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrTimeout))
}

func TestKeyAndTruncate(t *testing.T) {
	assert.Equal(t, Key("x"), Key("x"))
	assert.NotEqual(t, Key("x"), Key("y"))
	assert.True(t, strings.HasPrefix(Key("x"), "explain_"))

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "abc", truncate("abc", 0))
}
