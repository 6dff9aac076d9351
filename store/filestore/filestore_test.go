package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/escrow-tf/tradeoffers/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	for _, compress := range []bool{false, true} {
		compress := compress
		name := "Plain"
		if compress {
			name = "Compressed"
		}

		t.Run(name, func(t *testing.T) {
			s, err := New(Options{Dir: t.TempDir(), Compress: compress})
			require.NoError(t, err)

			_, err = s.Get(ctx, "classinfo_440_1_0")
			assert.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, s.Put(ctx, "classinfo_440_1_0", []byte(`{"name":"Key"}`)))

			value, err := s.Get(ctx, "classinfo_440_1_0")
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"Key"}`, string(value))
		})
	}
}

func TestStoreReadsPlainAfterEnablingCompression(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "poll_data_1.json"), []byte(`{}`), 0o644))

	s, err := New(Options{Dir: dir, Compress: true})
	require.NoError(t, err)

	value, err := s.Get(ctx, "poll_data_1")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(value))
}

func TestStoreRejectsTraversal(t *testing.T) {
	s, err := New(Options{Dir: t.TempDir()})
	require.NoError(t, err)

	assert.Error(t, s.Put(context.Background(), "../escape", []byte("x")))
	_, err = s.Get(context.Background(), "a/b")
	assert.Error(t, err)
}

func TestStoreClose(t *testing.T) {
	ctx := context.Background()
	s, err := New(Options{Dir: t.TempDir(), Compress: true})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "classinfo_440_1_0", []byte(`{"name":"Key"}`)))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Put(ctx, "classinfo_440_2_0", []byte(`{}`)), ErrClosed)
	_, err = s.Get(ctx, "classinfo_440_1_0")
	assert.ErrorIs(t, err, ErrClosed)
}
