package storage

import (
	"context"
	"net/http"
	"sort"
	"sync"
)

// MemoryBlobStore keeps blobs in process. Used when no blob service is configured.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Upload(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryBlobStore) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[name]
	return data, ok
}

// Names returns the stored blob names in sorted order.
func (s *MemoryBlobStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MemoryDocumentStore keeps documents keyed by id in process, mirroring the
// status codes Cosmos returns for upserts.
type MemoryDocumentStore struct {
	mu      sync.RWMutex
	ready   bool
	ensured int
	docs    map[string][]byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string][]byte)}
}

func (s *MemoryDocumentStore) EnsureContainer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	s.ensured++
	return nil
}

// Upsert inserts or replaces the document with the given id. It answers 201
// for a new document and 200 for a replacement.
func (s *MemoryDocumentStore) Upsert(ctx context.Context, id string, doc []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return http.StatusNotFound, ErrContainerNotFound
	}
	_, existed := s.docs[id]
	s.docs[id] = append([]byte(nil), doc...)
	if existed {
		return http.StatusOK, nil
	}
	return http.StatusCreated, nil
}

func (s *MemoryDocumentStore) Get(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok
}

func (s *MemoryDocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// EnsureCalls reports how many times EnsureContainer ran.
func (s *MemoryDocumentStore) EnsureCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ensured
}
