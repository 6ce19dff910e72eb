package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
)

// MemoryStore is an in-process EvidenceStore with the same write-once rules.
type MemoryStore struct {
	bucket  string
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: map[string][]byte{}}
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte, _ string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return ObjectInfo{}, ErrObjectExists
	}
	m.objects[key] = append([]byte(nil), body...)
	return m.info(key, body), nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), body...), nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return m.info(key, body), nil
}

func (m *MemoryStore) URI(key string) string {
	return uri(m.bucket, key)
}

// Corrupt overwrites an object in place, bypassing write-once rules. Tests use
// it to simulate tampering at the storage layer.
func (m *MemoryStore) Corrupt(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
}

func (m *MemoryStore) info(key string, body []byte) ObjectInfo {
	sum := md5.Sum(body)
	return ObjectInfo{Bucket: m.bucket, Key: key, Size: int64(len(body)), ETag: hex.EncodeToString(sum[:])}
}

var _ EvidenceStore = (*MemoryStore)(nil)
