package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qa-agent/logexplain/pkg/models"
)

var errExpired = errors.New("cache entry expired")

// record is the persisted envelope of one cache entry.
type record struct {
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
	Expiry int64           `json:"expiry"` // unix milliseconds
}

func encodeRecord(key string, value models.Explanation, expiry time.Time) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal cache value: %w", err)
	}
	return json.Marshal(record{Key: key, Value: raw, Expiry: expiry.UnixMilli()})
}

// decodeRecord returns the explanation held in payload. It reports
// models.ErrCacheCorruption for undecodable or structurally invalid entries
// and errExpired for entries whose expiry is not after now.
func decodeRecord(payload []byte, now time.Time) (record, models.Explanation, error) {
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return rec, models.Explanation{}, fmt.Errorf("%w: %v", models.ErrCacheCorruption, err)
	}
	if rec.Expiry == 0 || len(rec.Value) == 0 {
		return rec, models.Explanation{}, fmt.Errorf("%w: missing expiry or value", models.ErrCacheCorruption)
	}
	if !time.UnixMilli(rec.Expiry).After(now) {
		return rec, models.Explanation{}, errExpired
	}
	if err := validateRaw(rec.Value); err != nil {
		return rec, models.Explanation{}, fmt.Errorf("%w: %v", models.ErrCacheCorruption, err)
	}
	var exp models.Explanation
	if err := json.Unmarshal(rec.Value, &exp); err != nil {
		return rec, models.Explanation{}, fmt.Errorf("%w: %v", models.ErrCacheCorruption, err)
	}
	return rec, exp, nil
}

// ExpiryOf reads the expiry of a persisted entry without validating its value.
func ExpiryOf(payload []byte) (time.Time, error) {
	var rec struct {
		Expiry int64 `json:"expiry"`
	}
	if err := json.Unmarshal(payload, &rec); err != nil || rec.Expiry == 0 {
		return time.Time{}, models.ErrCacheCorruption
	}
	return time.UnixMilli(rec.Expiry), nil
}

// validateRaw checks the shape of a serialized Explanation. Working on the raw
// JSON lets a missing field be told apart from a zero value.
func validateRaw(raw json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("value is not an object")
	}

	var content string
	if err := json.Unmarshal(fields["content"], &content); err != nil {
		return fmt.Errorf("content is not a string")
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is empty")
	}

	usage, ok := fields["tokenUsage"]
	if !ok || string(usage) == "null" {
		return nil
	}
	var u map[string]any
	if err := json.Unmarshal(usage, &u); err != nil {
		return fmt.Errorf("tokenUsage is not an object")
	}
	for _, name := range []string{"promptTokens", "completionTokens", "totalTokens"} {
		if _, ok := u[name].(float64); !ok {
			return fmt.Errorf("tokenUsage.%s missing or not a number", name)
		}
	}
	if _, ok := u["model"].(string); !ok {
		return fmt.Errorf("tokenUsage.model missing or not a string")
	}
	return nil
}

// valid applies the same rules to an in-memory value.
func valid(e models.Explanation) bool {
	if !e.Usable() {
		return false
	}
	if u := e.TokenUsage; u != nil {
		if u.PromptTokens < 0 || u.CompletionTokens < 0 || u.TotalTokens < 0 {
			return false
		}
	}
	return true
}
