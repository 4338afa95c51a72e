// Package filestore defines the object storage interface used to keep
// database snapshots.
//
// All providers implement the Store interface. Callers depend only on
// this package, never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin", "reshape")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	objects, err := store.ListObjects(ctx, "snapshots/users/")
package filestore

import (
	"context"
	"io"
)

// Store is the interface all object storage providers implement. It is
// bound to the bucket given in Config.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// PutObject uploads size bytes from r under key.
	PutObject(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)

	// GetObject opens a streaming handle to the object at key.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, key string) (Object, error)

	// StatObject returns metadata for the object at key without
	// downloading its content.
	StatObject(ctx context.Context, key string) (*ObjectInfo, error)

	// ListObjects returns every object whose key starts with prefix,
	// sorted by key.
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// RemoveObject deletes the object at key.
	RemoveObject(ctx context.Context, key string) error
}
