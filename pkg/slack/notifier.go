// Package slack sends markdown messages to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/metrics"
	"github.com/qa-agent/logexplain/pkg/upstream"
)

const (
	providerName    = "slack"
	defaultFallback = "New log explanation"
)

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type string     `json:"type"`
	Text textObject `json:"text"`
}

type message struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

// Notifier posts to one webhook URL.
type Notifier struct {
	webhookURL string
	http       *upstream.Client
	log        *zap.Logger
	metrics    *metrics.Recorder
}

// New creates a Notifier for webhookURL.
func New(webhookURL string, log *zap.Logger, rec *metrics.Recorder) (*Notifier, error) {
	if webhookURL == "" {
		return nil, errors.New("slack: webhook URL required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		http:       upstream.New(providerName, log),
		log:        log,
		metrics:    rec,
	}, nil
}

// Send posts markdown as a single section block. It reports true only when
// the webhook answers 200; failures are logged, never returned.
func (n *Notifier) Send(ctx context.Context, markdown string) bool {
	payload, err := json.Marshal(message{
		Text: Fallback(markdown),
		Blocks: []block{{
			Type: "section",
			Text: textObject{Type: "mrkdwn", Text: markdown},
		}},
	})
	if err != nil {
		n.log.Warn("slack payload encode failed", zap.Error(err))
		return false
	}

	start := time.Now()
	res, err := n.http.Do(ctx, upstream.Request{
		BaseURL:     n.webhookURL,
		ContentType: "application/json",
		Body:        payload,
	})
	if err == nil && res.StatusCode != http.StatusOK {
		err = res.StatusErr(providerName)
	}
	n.metrics.ObserveBackendCall(providerName, err, time.Since(start))
	if err != nil {
		n.log.Warn("slack notification failed", zap.Error(err))
		return false
	}
	return true
}

// Fallback derives the plain-text notification title from a leading
// "## " heading.
func Fallback(markdown string) string {
	first, _, _ := strings.Cut(strings.TrimLeft(markdown, "\r\n"), "\n")
	if title, ok := strings.CutPrefix(strings.TrimSpace(first), "## "); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return defaultFallback
}
