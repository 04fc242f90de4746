// Package sync holds locking helpers shared by in-process stores.
package sync

import (
	"hash/maphash"
	"sync"
)

// DefaultShards is the shard count used when a non-positive count is given.
const DefaultShards = 32

// ShardedMutex serializes work per key while unrelated keys proceed in
// parallel. Keys map to a fixed set of mutexes, so two keys may share one.
type ShardedMutex struct {
	seed   maphash.Seed
	mask   uint64
	shards []sync.Mutex
}

// NewShardedMutex creates a ShardedMutex with at least n shards, rounded up
// to a power of two.
func NewShardedMutex(n int) *ShardedMutex {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &ShardedMutex{
		seed:   maphash.MakeSeed(),
		mask:   uint64(size - 1),
		shards: make([]sync.Mutex, size),
	}
}

// Len reports the number of shards.
func (m *ShardedMutex) Len() int {
	return len(m.shards)
}

func (m *ShardedMutex) Lock(key string) {
	m.shard(key).Lock()
}

func (m *ShardedMutex) Unlock(key string) {
	m.shard(key).Unlock()
}

// WithLock runs fn while holding key's shard.
func (m *ShardedMutex) WithLock(key string, fn func()) {
	mu := m.shard(key)
	mu.Lock()
	defer mu.Unlock()
	fn()
}

func (m *ShardedMutex) shard(key string) *sync.Mutex {
	return &m.shards[maphash.String(m.seed, key)&m.mask]
}
