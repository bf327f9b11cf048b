// Package upstream sends requests to external HTTP backends and turns their
// failures into the shared error taxonomy.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/models"
)

const (
	// maxErrorBody bounds how much of an error response is kept in messages.
	maxErrorBody = 512
	// DefaultTimeout bounds a single HTTP exchange when the caller's context
	// carries no earlier deadline.
	DefaultTimeout = 60 * time.Second
)

// Request describes one call to a backend.
type Request struct {
	Method      string
	BaseURL     string
	Path        string
	ContentType string
	Headers     map[string]string
	Body        []byte
	// Idempotent requests are retried on transport errors and retryable statuses.
	Idempotent bool
}

// Result holds the response from a single upstream attempt.
type Result struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// OK reports a 2xx status.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err converts a non-2xx result into a *models.ProviderError.
func (r *Result) Err(provider string) error {
	if r.OK() {
		return nil
	}
	return r.StatusErr(provider)
}

// StatusErr builds a *models.ProviderError for the result regardless of its
// status. Callers with a stricter notion of success than 2xx use it.
func (r *Result) StatusErr(provider string) error {
	msg := strings.TrimSpace(string(r.Body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	if msg == "" {
		msg = http.StatusText(r.StatusCode)
	}
	return &models.ProviderError{Provider: provider, StatusCode: r.StatusCode, Message: msg}
}

// Client performs upstream requests with bounded retries.
type Client struct {
	Provider    string
	HTTP        *http.Client
	MaxAttempts int
	Backoff     time.Duration
	Log         *zap.Logger
}

// New returns a Client for provider with sensible retry defaults.
func New(provider string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		Provider:    provider,
		HTTP:        &http.Client{Timeout: DefaultTimeout},
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		Log:         log,
	}
}

// Do sends req. Transport failures are returned as errors; any HTTP status is
// returned as a Result for the caller to interpret. A deadline exceeded on
// ctx is reported as models.ErrTimeout.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	attempts := 1
	if req.Idempotent && c.MaxAttempts > 1 {
		attempts = c.MaxAttempts
	}

	var (
		res *Result
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err = c.doOnce(ctx, req)
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		if !IsRetryable(err, status) || attempt == attempts || ctx.Err() != nil {
			break
		}
		c.Log.Warn("upstream attempt failed, retrying",
			zap.String("provider", c.Provider),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Error(err))
		if werr := sleep(ctx, c.Backoff*time.Duration(attempt)); werr != nil {
			break
		}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w: %v", c.Provider, models.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%s: %w", c.Provider, err)
	}
	return res, nil
}

func (c *Client) doOnce(ctx context.Context, req Request) (*Result, error) {
	target, err := url.Parse(req.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(target.String(), "/")+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}

// IsRetryable returns true if the error or status code warrants another attempt.
func IsRetryable(err error, statusCode int) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
