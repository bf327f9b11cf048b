// Package valkey is a persistent cache tier on a Redis-compatible server.
package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qa-agent/logexplain/pkg/config"
	valkeygo "github.com/valkey-io/valkey-go"
)

// keyPrefix namespaces every key this store writes.
const keyPrefix = "logexplain:cache:"

// Store keeps entries as plain string values with a server-side TTL.
type Store struct {
	client valkeygo.Client
}

// New connects to the server and pings it. An unreachable server is an
// error at construction time.
func New(cfg config.ValkeyConfig) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkey cache: address required")
	}

	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey cache: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey cache: ping: %w", err)
	}

	return &Store{client: client}, nil
}

// Get reads the payload stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(keyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkeygo.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("valkey cache get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("valkey cache get bytes: %w", err)
	}
	return payload, true, nil
}

// Put stores payload with a TTL derived from expiry. Entries that are
// already expired are deleted instead.
func (s *Store) Put(ctx context.Context, key string, payload []byte, expiry time.Time) error {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	cmd := s.client.B().Set().Key(keyPrefix + key).Value(string(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey cache set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(keyPrefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("valkey cache del: %w", err)
	}
	return nil
}

// Clear removes every key under the store prefix.
func (s *Store) Clear(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
			return fmt.Errorf("valkey cache clear: %w", err)
		}
		return nil
	})
}

// Len counts keys under the store prefix.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.scan(ctx, func(keys []string) error {
		n += int64(len(keys))
		return nil
	})
	return n, err
}

// Close disconnects from the server.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

func (s *Store) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(keyPrefix+"*").Count(100).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("valkey cache scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			if err := fn(entry.Elements); err != nil {
				return err
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}
