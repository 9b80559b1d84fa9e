package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by backends when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Backend is an object store holding representation files.
type Backend interface {
	// ReadTo streams the object at key into w.
	ReadTo(ctx context.Context, key string, w io.Writer) error

	// WriteReader stores r under key. size may be -1 when unknown.
	WriteReader(ctx context.Context, key string, r io.Reader, size int64) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases clients held by the backend.
	Close() error

	// Type returns the backend identifier ("local", "s3", "azure").
	Type() string
}
