package filestore

import (
	"io"
	"time"
)

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Key is the full object path within the bucket
	// (e.g. "snapshots/users/20260102T150405Z-<run>.sqlite").
	Key string `json:"key"`

	// Size is the byte size of the object. -1 if unknown.
	Size int64 `json:"size"`

	ContentType string `json:"content_type,omitempty"`

	// ETag is the object's entity tag, as returned by the backend.
	ETag string `json:"etag,omitempty"`

	LastModified time.Time `json:"last_modified"`

	// Metadata holds user metadata stored with the object.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}

// PutOptions describe an upload.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}
