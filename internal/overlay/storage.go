package overlay

import (
	"context"
	"time"

	"github.com/davral/epiring/pkg"
	"github.com/davral/epiring/pkg/hash"
)

// KVStorage provides an overlay-specific wrapper around the generic
// MemoryStorage. Keys are hashed to ring identifiers before storage so that
// the stored keyspace matches the ring the node routes on.
type KVStorage struct {
	storage *pkg.MemoryStorage
}

// NewKVStorage creates a KVStorage wrapping the provided MemoryStorage.
func NewKVStorage(storage *pkg.MemoryStorage) *KVStorage {
	return &KVStorage{
		storage: storage,
	}
}

// NewDefaultKVStorage creates a KVStorage with default MemoryStorage configuration.
func NewDefaultKVStorage() *KVStorage {
	memStorage := pkg.NewMemoryStorage(&pkg.MemoryConfig{
		CleanupInterval: 1 * time.Minute,
	})
	return NewKVStorage(memStorage)
}

// hashKey converts a user key into its hex ring identifier.
func (s *KVStorage) hashKey(key string) string {
	return hash.HashString(key).Text(16)
}

// Get retrieves a value by key. The key is hashed to a ring ID before lookup.
func (s *KVStorage) Get(ctx context.Context, key string) ([]byte, error) {
	return s.storage.Get(ctx, s.hashKey(key))
}

// Set stores a value with the given key and TTL. If TTL is 0, the value
// will not expire.
func (s *KVStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.storage.Set(ctx, s.hashKey(key), value, ttl)
}

// Delete removes a key-value pair.
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, s.hashKey(key))
}

// Stats returns the underlying storage statistics.
func (s *KVStorage) Stats() pkg.Stats {
	return s.storage.GetStats()
}

// Close shuts down the underlying storage.
func (s *KVStorage) Close() error {
	return s.storage.Close()
}
