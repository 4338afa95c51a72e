// Package filestoretest provides an in-memory filestore.Store for tests.
package filestoretest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/filestore"
)

// Store keeps objects in memory. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	objects map[string]stored
}

type stored struct {
	data []byte
	info filestore.ObjectInfo
}

func New() *Store {
	return &Store{objects: make(map[string]stored)}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) PutObject(_ context.Context, key string, r io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to put object", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "object %q: read %d bytes, expected %d", key, len(data), size)
	}
	info := filestore.ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		LastModified: time.Now().UTC(),
		Metadata:     opts.Metadata,
	}
	s.mu.Lock()
	s.objects[key] = stored{data: data, info: info}
	s.mu.Unlock()
	return &info, nil
}

func (s *Store) GetObject(_ context.Context, key string) (filestore.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "no object %q", key)
	}
	info := o.info
	return &object{Reader: bytes.NewReader(o.data), info: &info}, nil
}

func (s *Store) StatObject(_ context.Context, key string) (*filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "no object %q", key)
	}
	info := o.info
	return &info, nil
}

func (s *Store) ListObjects(_ context.Context, prefix string) ([]filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []filestore.ObjectInfo{}
	for k, o := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) RemoveObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type object struct {
	*bytes.Reader
	info *filestore.ObjectInfo
}

func (o *object) Close() error                { return nil }
func (o *object) Info() *filestore.ObjectInfo { return o.info }

var _ filestore.Store = (*Store)(nil)
