package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/intakehq/docpipe/internal/common"
)

// Memory is an in-process store for tests and single-node local mode.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (s *Memory) Put(_ context.Context, data []byte) (string, error) {
	id := blobID(data)
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.blobs[id] = cp
	s.mu.Unlock()
	return id, nil
}

func (s *Memory) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", id, common.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
