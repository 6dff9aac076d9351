package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/escrow-tf/tradeoffers/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	s := NewFromClient(nil, "tradeoffers:", 0)

	assert.Equal(t, "tradeoffers:blob:classinfo_440_1_0", s.blobKey("classinfo_440_1_0"))
	assert.Equal(t, "tradeoffers:http:https://example.com", s.responseKey("https://example.com"))
}

// TestStoreLive runs against a real server when REDIS_ADDR is set.
func TestStoreLive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	s, err := New(ctx, ClientConfig{Addr: addr, Prefix: "tradeoffers-test:", TTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Put(ctx, "poll_data_1", []byte("value")))
	value, err := s.Get(ctx, "poll_data_1")
	require.NoError(t, err)
	assert.Equal(t, "value", string(value))

	cache := s.ResponseCache()
	require.NoError(t, cache.Set(ctx, "k", "response", time.Minute))
	response, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "response", response)
}
