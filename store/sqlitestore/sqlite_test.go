package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/escrow-tf/tradeoffers/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blobs.db")

	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Put(ctx, "poll_data_1", []byte("first")))
	require.NoError(t, s.Put(ctx, "poll_data_1", []byte("second")))

	value, err := s.Get(ctx, "poll_data_1")
	require.NoError(t, err)
	assert.Equal(t, "second", string(value))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, err = reopened.Get(ctx, "poll_data_1")
	require.NoError(t, err)
	assert.Equal(t, "second", string(value))
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
