package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

const memoryScheme = "memory://"

// Memory keeps objects in process. Used in development when no bucket is
// configured and in tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *Memory) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return memoryScheme + key, nil
}

func (m *Memory) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[strings.TrimPrefix(url, memoryScheme)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", url)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[key]
}
