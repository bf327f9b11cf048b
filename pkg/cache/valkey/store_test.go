package valkey

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qa-agent/logexplain/pkg/config"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	s, err := New(config.ValkeyConfig{Address: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, srv
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(config.ValkeyConfig{})
	require.Error(t, err)
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	addr := srv.Addr()
	srv.Close()

	_, err = New(config.ValkeyConfig{Address: addr})
	require.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	s, srv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte(`{"key":"k1"}`), time.Now().Add(time.Minute)))
	assert.True(t, srv.Exists(keyPrefix+"k1"))

	data, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"key":"k1"}`, string(data))

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreTTL(t *testing.T) {
	s, srv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v"), time.Now().Add(time.Minute)))
	srv.FastForward(2 * time.Minute)

	_, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePutExpiredDeletes(t *testing.T) {
	s, srv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v"), time.Now().Add(time.Minute)))
	require.NoError(t, s.Put(ctx, "k1", []byte("v"), time.Now().Add(-time.Second)))
	assert.False(t, srv.Exists(keyPrefix+"k1"))
}

func TestStoreClearAndLen(t *testing.T) {
	s, srv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, srv.Set("unrelated", "x"))
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, k, []byte("v"), time.Now().Add(time.Minute)))
	}

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, s.Clear(ctx))
	n, err = s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, srv.Exists("unrelated"))

	require.NoError(t, s.Delete(ctx, "never-set"))
}
