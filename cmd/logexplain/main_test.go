package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/cache/file"
	cachesqlite "github.com/qa-agent/logexplain/pkg/cache/sqlite"
	"github.com/qa-agent/logexplain/pkg/compress"
	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/models"
	"github.com/qa-agent/logexplain/pkg/pipeline"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	s, err := openStore(config.CacheConfig{Backend: "file", Dir: filepath.Join(dir, "cache")})
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, s)
	require.NoError(t, s.Close())

	s, err = openStore(config.CacheConfig{Backend: "sqlite", DBPath: filepath.Join(dir, "cache.db")})
	require.NoError(t, err)
	assert.IsType(t, &cachesqlite.Store{}, s)
	require.NoError(t, s.Close())

	_, err = openStore(config.CacheConfig{Backend: "valkey"})
	require.Error(t, err)

	_, err = openStore(config.CacheConfig{Backend: "memcached"})
	require.Error(t, err)
}

func TestConfirmerWithoutTerminal(t *testing.T) {
	ctx := context.Background()
	in := strings.NewReader("y\n")

	ok, err := confirmer(zap.NewNop(), true, false, in, &bytes.Buffer{}).Confirm(ctx, "q?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = confirmer(zap.NewNop(), false, true, in, &bytes.Buffer{}).Confirm(ctx, "q?")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, pipeline.Static{Answer: false}, confirmer(zap.NewNop(), false, false, in, &bytes.Buffer{}))
}

func TestDecompressCmd(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run.log.zst")
	c, err := compress.New(config.CompressConfig{Codec: "zstd", Level: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, c.CompressAndSave("ERROR db timeout\n", src))

	var out bytes.Buffer
	cmd := newDecompressCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{src})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "ERROR db timeout\n", out.String())

	cmd = newDecompressCmd()
	cmd.SetArgs([]string{filepath.Join(dir, "run.log")})
	assert.Error(t, cmd.Execute())
}

func TestRunRequiresExclusiveAnswers(t *testing.T) {
	cmd := newRunCmd(&rootOptions{configPath: config.DefaultPath})
	cmd.SetArgs([]string{"--ticket", "QA-1", "--yes", "--no", "run.log"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestFormatRunRecords(t *testing.T) {
	assert.Equal(t, "No runs found.\n", formatRunRecords(nil))

	out := formatRunRecords([]models.RunRecord{{
		RunID:      "run-1",
		TicketKey:  "QA-1",
		State:      "Failed",
		Error:      "explain: timeout",
		DurationMs: 42,
		CreatedAt:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}})
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "42ms")
	assert.Contains(t, out, "error: explain: timeout")
}

func TestPrintRuns(t *testing.T) {
	var out bytes.Buffer
	printRuns(&out, []*pipeline.EvidenceRun{
		{
			LogPath:     "/tmp/run.log",
			TicketKey:   "QA-1",
			State:       pipeline.StateDone,
			SidecarPath: "/tmp/run.explanation.md",
			Explanation: models.Explanation{
				Content:    "The database did not answer.",
				TokenUsage: &models.TokenUsage{TotalTokens: 1234, Model: "gemini-1.5-flash"},
			},
		},
		{LogPath: "/tmp/missing.log", TicketKey: "QA-1", State: pipeline.StateFailed, Err: models.ErrNotFound},
		{
			LogPath:     "/tmp/readonly/run.log",
			TicketKey:   "QA-1",
			State:       pipeline.StateDone,
			Explanation: models.Explanation{Content: "The sidecar could not be written."},
		},
	})

	s := out.String()
	assert.Contains(t, s, "The database did not answer.")
	assert.Contains(t, s, "1,234 tokens")
	assert.Contains(t, s, "/tmp/missing.log: not found")
	assert.Contains(t, s, "saved to /tmp/run.explanation.md")
	assert.Contains(t, s, "The sidecar could not be written.")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Error: boom", firstLine("  Error: boom\n  at line 3", 40))
	assert.Equal(t, "abcdefg...", firstLine(strings.Repeat("abcdefghij", 3), 10))
}
