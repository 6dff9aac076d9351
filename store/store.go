// Package store defines the durable key to blob contract shared by the classinfo cache and the poll data
// persistence, plus the backends that satisfy it.
package store

import (
	"context"
	"errors"
	"regexp"
)

var ErrNotFound = errors.New("store: not found")

// Store is a best-effort durable blob store. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns ErrNotFound when nothing is stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidKey reports whether key is safe to use as a file name, table key or redis key suffix.
func ValidKey(key string) bool {
	return validKey.MatchString(key) && key != "." && key != ".."
}
