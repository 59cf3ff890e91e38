package store

import (
	"bytes"
	"context"
	"sync"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// MemoryStorage is a process-local DocumentStorage. Nothing survives a restart.
type MemoryStorage struct {
	mu   sync.RWMutex
	docs map[domain.DocumentID][]byte
}

// NewMemoryStorage returns empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{docs: make(map[domain.DocumentID][]byte)}
}

func (s *MemoryStorage) Load(_ context.Context, id domain.DocumentID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.docs[id]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(b), true, nil
}

func (s *MemoryStorage) Save(_ context.Context, id domain.DocumentID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = bytes.Clone(data)
	return nil
}

var _ domain.DocumentStorage = (*MemoryStorage)(nil)
