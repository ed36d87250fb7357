package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const defaultShards = 32

// shard owns a disjoint slice of the key space. All reads and writes of a key
// happen under its shard's lock, which is what makes each key linearizable.
type shard[T any] struct {
	mu    sync.RWMutex
	items map[string]*entry[T]
}

func newShards[T any](n int) []*shard[T] {
	shards := make([]*shard[T], n)
	for i := range shards {
		shards[i] = &shard[T]{items: make(map[string]*entry[T])}
	}
	return shards
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (s *shard[T]) load(key string) *entry[T] {
	s.mu.RLock()
	e := s.items[key]
	s.mu.RUnlock()
	return e
}

// removeIf deletes key only while it still maps to e, so a lazy purge never
// drops a value written after the expired read.
func (s *shard[T]) removeIf(key string, e *entry[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.items[key]; ok && cur == e {
		delete(s.items, key)
		return true
	}
	return false
}

// collectExpiredLocked removes expired entries and returns their keys.
// Callers must hold the write lock.
func (s *shard[T]) collectExpiredLocked(now time.Time) []string {
	var keys []string
	for key, e := range s.items {
		if e.expired(now) {
			delete(s.items, key)
			keys = append(keys, key)
		}
	}
	return keys
}
