// Package filestore keeps one file per key in a data directory, written atomically and optionally
// compressed with zstd.
package filestore

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/escrow-tf/tradeoffers/store"
	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var ErrClosed = errors.New("filestore: closed")

type Options struct {
	Dir      string
	Compress bool
}

type Store struct {
	dir      string
	compress bool

	mu     sync.RWMutex
	closed bool
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, eris.New("filestore: empty data directory")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "filestore: create %s", opts.Dir)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, eris.Wrap(err, "filestore: zstd writer")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, eris.Wrap(err, "filestore: zstd reader")
	}

	return &Store{
		dir:      opts.Dir,
		compress: opts.Compress,
		enc:      enc,
		dec:      dec,
	}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if !store.ValidKey(key) {
		return nil, eris.Errorf("filestore: invalid key %q", key)
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, eris.Wrapf(err, "filestore: read %s", key)
	}

	// compressed and plain files can coexist after toggling Compress
	if bytes.HasPrefix(data, zstdMagic) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return nil, ErrClosed
		}
		decoded, err := s.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "filestore: decompress %s", key)
		}
		return decoded, nil
	}

	return data, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if !store.ValidKey(key) {
		return eris.Errorf("filestore: invalid key %q", key)
	}

	data := value
	if s.compress {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return ErrClosed
		}
		data = s.enc.EncodeAll(value, nil)
		s.mu.RUnlock()
	}

	return writeFileAtomic(s.path(key), data)
}

// Close releases the zstd encoder and decoder. Uncompressed reads keep working afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dec.Close()
	return s.enc.Close()
}

// writeFileAtomic writes to a temp file in the same directory and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "filestore: create temp")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "filestore: write temp")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "filestore: close temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "filestore: rename")
	}
	return nil
}

var _ store.Store = (*Store)(nil)
