// Package gateway turns raw log text into an Explanation, serving repeated
// inputs from the fingerprint cache.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/qa-agent/logexplain/pkg/cache"
	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/models"
)

const (
	keyNamespace = "explain"
	promptPrefix = "Explain the following error clearly and didactically for a QA analyst:\n\n"
)

// Backend generates text for a prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string, gen models.GenerationConfig) (models.Generation, error)
}

// Cache is the subset of *cache.Cache used by the gateway.
type Cache interface {
	Get(ctx context.Context, key string) (models.Explanation, bool)
	Set(ctx context.Context, key string, value models.Explanation, ttl time.Duration)
}

// Gateway explains logs through a Backend behind a Cache.
type Gateway struct {
	backend     Backend
	cache       Cache
	limiter     *rate.Limiter
	model       string
	gen         models.GenerationConfig
	maxInput    int
	ttl         time.Duration
	callTimeout time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// New creates a Gateway. A non-positive requests-per-minute disables pacing.
func New(backend Backend, c Cache, cfg *config.Config, log *zap.Logger) (*Gateway, error) {
	if backend == nil || c == nil {
		return nil, errors.New("gateway: backend and cache required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if rpm := cfg.Gateway.RequestsPerMinute; rpm > 0 {
		limit = rate.Every(time.Minute / time.Duration(rpm))
	}
	return &Gateway{
		backend:     backend,
		cache:       c,
		limiter:     rate.NewLimiter(limit, 1),
		model:       cfg.Provider.Model,
		gen:         cfg.Provider.Generation,
		maxInput:    cfg.Gateway.MaxInputChars,
		ttl:         cfg.Gateway.CacheTTL,
		callTimeout: cfg.CallTimeout,
		log:         log,
		now:         time.Now,
	}, nil
}

// Key returns the cache key for logText.
func Key(logText string) string {
	return cache.Fingerprint(keyNamespace, logText)
}

// Prompt builds the backend prompt, truncating logText to maxChars runes.
func Prompt(logText string, maxChars int) string {
	return promptPrefix + truncate(logText, maxChars)
}

// Explain returns the explanation for logText and whether it came from the
// cache. Empty backend output is models.ErrEmptyResult and is not cached.
func (g *Gateway) Explain(ctx context.Context, logText string) (models.Explanation, bool, error) {
	key := Key(logText)
	if exp, ok := g.cache.Get(ctx, key); ok {
		g.log.Debug("explanation served from cache", zap.String("key", key))
		return exp, true, nil
	}

	start := g.now()
	prompt := Prompt(logText, g.maxInput)

	callCtx := ctx
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	// Wait fails early when the next slot lies beyond the call deadline.
	if err := g.limiter.Wait(callCtx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.Explanation{}, false, fmt.Errorf("gateway: rate limit wait: %w", err)
		}
		return models.Explanation{}, false, fmt.Errorf("gateway: rate limit wait: %w: %v", models.ErrTimeout, err)
	}

	out, err := g.backend.Generate(callCtx, prompt, g.gen)
	if err != nil {
		return models.Explanation{}, false, fmt.Errorf("gateway: generate: %w", timeoutOr(callCtx, err))
	}

	exp := models.Explanation{
		Content:        out.Text,
		TokenUsage:     out.Usage,
		ProcessingTime: g.now().Sub(start),
	}
	if !exp.Usable() {
		return models.Explanation{}, false, fmt.Errorf("gateway: %w", models.ErrEmptyResult)
	}
	if exp.TokenUsage == nil {
		exp.TokenUsage = models.EstimateUsage(g.model, prompt, out.Text, g.now())
	} else if exp.TokenUsage.Timestamp.IsZero() {
		exp.TokenUsage.Timestamp = g.now()
	}

	g.cache.Set(ctx, key, exp, g.ttl)
	g.log.Info("explanation generated",
		zap.String("key", key),
		zap.Int("prompt_tokens", exp.TokenUsage.PromptTokens),
		zap.Int("completion_tokens", exp.TokenUsage.CompletionTokens),
		zap.Duration("processing_time", exp.ProcessingTime))
	return exp, false, nil
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(err, models.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return err
}
