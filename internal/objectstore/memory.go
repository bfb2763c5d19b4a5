package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"duck-flight/internal/domain"
)

var _ domain.ObjectStore = (*MemoryStore)(nil)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStore keeps objects in process memory. An object is published only
// after its whole stream has been read.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	puts    map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject), puts: make(map[string]int)}
}

// PutStream reads r fully and stores it under key.
func (s *MemoryStore) PutStream(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, &ctxReader{ctx: ctx, r: r}); err != nil {
		return 0, storeWriteErr(key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: buf.Bytes(), contentType: contentType, modified: time.Now().UTC()}
	s.puts[key]++
	return int64(buf.Len()), nil
}

// GetStream returns a reader over a snapshot of key.
func (s *MemoryStore) GetStream(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Head returns object metadata.
func (s *MemoryStore) Head(_ context.Context, key string) (*domain.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	return &domain.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
		ContentType:  obj.contentType,
	}, nil
}

// Exists reports whether key is present.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// List returns objects under prefix sorted by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]domain.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, domain.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified, ContentType: obj.contentType})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// PutCount returns how many successful writes key has received.
func (s *MemoryStore) PutCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts[key]
}
