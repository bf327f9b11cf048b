// Package jira posts comments and attachments to Jira Cloud issues.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/metrics"
	"github.com/qa-agent/logexplain/pkg/models"
	"github.com/qa-agent/logexplain/pkg/upstream"
)

const providerName = "jira"

var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-[0-9]+$`)

// ValidIssueKey reports whether key looks like PROJ-123.
func ValidIssueKey(key string) bool {
	return issueKeyPattern.MatchString(key)
}

// Client talks to the Jira REST API with basic auth.
type Client struct {
	baseURL string
	auth    string
	http    *upstream.Client
	log     *zap.Logger
	metrics *metrics.Recorder
}

// New creates a Client. Base URL, email and API token are all required.
func New(cfg config.JiraConfig, log *zap.Logger, rec *metrics.Recorder) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Email == "" || cfg.APIToken == "" {
		return nil, errors.New("jira: base URL, email and API token are required (JIRA_BASE_URL, JIRA_EMAIL, JIRA_API_TOKEN)")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("jira: invalid base URL: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Email+":"+cfg.APIToken)),
		http:    upstream.New(providerName, log),
		log:     log,
		metrics: rec,
	}, nil
}

// Comment adds body as a comment on issueKey.
func (c *Client) Comment(ctx context.Context, issueKey, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("jira: marshal comment: %w", err)
	}
	err = c.send(ctx, upstream.Request{
		Path:        "/rest/api/3/issue/" + url.PathEscape(issueKey) + "/comment",
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return err
	}
	c.log.Info("comment added", zap.String("issue", issueKey))
	return nil
}

// Attach uploads the file at path to issueKey.
func (c *Client) Attach(ctx context.Context, issueKey, path string) error {
	body, contentType, err := multipartFile(path)
	if err != nil {
		return err
	}
	err = c.send(ctx, upstream.Request{
		Path:        "/rest/api/3/issue/" + url.PathEscape(issueKey) + "/attachments",
		ContentType: contentType,
		Headers:     map[string]string{"X-Atlassian-Token": "no-check"},
		Body:        body,
	})
	if err != nil {
		return err
	}
	c.log.Info("file attached", zap.String("issue", issueKey), zap.String("file", filepath.Base(path)))
	return nil
}

// Myself checks that the credentials are accepted.
func (c *Client) Myself(ctx context.Context) error {
	return c.send(ctx, upstream.Request{
		Method:     http.MethodGet,
		Path:       "/rest/api/2/myself",
		Idempotent: true,
	})
}

func (c *Client) send(ctx context.Context, req upstream.Request) error {
	start := time.Now()
	err := c.do(ctx, req)
	c.metrics.ObserveBackendCall(providerName, err, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, req upstream.Request) error {
	req.BaseURL = c.baseURL
	headers := map[string]string{
		"Authorization": c.auth,
		"Accept":        "application/json",
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	req.Headers = headers

	res, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	return res.Err(providerName)
}

func multipartFile(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("jira: %w: open %s: %v", models.ErrIO, path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("jira: build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("jira: %w: read %s: %v", models.ErrIO, path, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("jira: build upload: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
