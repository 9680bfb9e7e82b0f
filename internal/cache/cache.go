// Package cache implements the chunk cache (C4): a bounded LRU of recently
// produced, optionally compressed chunks, keyed by file identity and chunk
// index. The cache is an optimization only — a cold cache, a full cache, or
// one that has just expired every entry must never change observable
// upload behavior beyond latency.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/upload-engine/chunkup/internal/compress"
	"github.com/upload-engine/chunkup/internal/model"
)

// Key identifies one file for cache purposes.
type Key struct {
	FileName         string
	FileSize         int64
	LastModifiedUnix int64
}

// String renders the key in the "<fileName>-<fileSize>-<lastModifiedMs>"
// form the spec names.
func (k Key) String() string {
	return fmt.Sprintf("%s-%d-%d", k.FileName, k.FileSize, k.LastModifiedUnix)
}

type entry struct {
	fileKey    string
	chunkIndex int
	payload    []byte
	compressed bool
	checksum   string
	storedAt   time.Time
}

// Cache is a capacity- and TTL-bounded LRU keyed by (fileKey, chunkIndex).
// All operations are safe for concurrent use; Get-then-promote and
// Put-then-evict each run under the same lock, so no caller can observe a
// half-evicted state.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration

	order *list.List
	items map[string]*list.Element
}

// New creates a Cache with the given capacity (number of chunks) and TTL.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity < 1 {
		capacity = 1
	}

	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func entryKey(fileKey string, chunkIndex int) string {
	return fmt.Sprintf("%s#%d", fileKey, chunkIndex)
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Put stores a chunk's payload, compressing it first if
// compress.ShouldCompress says it's worth it. An expire-sweep runs first,
// then the oldest entry is evicted if the cache is full.
func (c *Cache) Put(fileKey string, chunkIndex int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()

	stored := payload
	compressed := false

	if compress.ShouldCompress(len(payload)) {
		result, err := compress.Compress(model.Chunk{Kind: model.KindBinary, Payload: payload})
		if err != nil {
			return fmt.Errorf("cache: compressing chunk for storage: %w", err)
		}

		stored = result.Chunk.Payload
		compressed = result.Compressed
	}

	key := entryKey(fileKey, chunkIndex)

	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		el.Value = &entry{
			fileKey:    fileKey,
			chunkIndex: chunkIndex,
			payload:    stored,
			compressed: compressed,
			checksum:   checksum(payload),
			storedAt:   time.Now(),
		}

		return nil
	}

	if c.order.Len() >= c.capacity {
		c.evictOldestLocked()
	}

	el := c.order.PushFront(&entry{
		fileKey:    fileKey,
		chunkIndex: chunkIndex,
		payload:    stored,
		compressed: compressed,
		checksum:   checksum(payload),
		storedAt:   time.Now(),
	})
	c.items[key] = el

	return nil
}

// Get returns a chunk's decompressed payload if present, not expired, and
// its stored checksum matches a recomputed hash of the decompressed bytes.
// Any failure of those conditions is treated as a miss and the entry (if
// any) is evicted.
func (c *Cache) Get(fileKey string, chunkIndex int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := entryKey(fileKey, chunkIndex)

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}

	e := el.Value.(*entry)

	if c.ttl > 0 && time.Since(e.storedAt) > c.ttl {
		c.removeLocked(key, el)
		return nil, false
	}

	payload, err := compress.Decompress(e.payload, e.compressed)
	if err != nil || checksum(payload) != e.checksum {
		c.removeLocked(key, el)
		return nil, false
	}

	c.order.MoveToFront(el)

	return payload, true
}

// Len reports the number of entries currently cached, including any not
// yet swept for expiry.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

func (c *Cache) expireLocked() {
	if c.ttl <= 0 {
		return
	}

	for el := c.order.Back(); el != nil; {
		e := el.Value.(*entry)
		if time.Since(e.storedAt) <= c.ttl {
			break
		}

		prev := el.Prev()
		c.removeLocked(entryKey(e.fileKey, e.chunkIndex), el)
		el = prev
	}
}

func (c *Cache) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}

	e := el.Value.(*entry)
	c.removeLocked(entryKey(e.fileKey, e.chunkIndex), el)
}

func (c *Cache) removeLocked(key string, el *list.Element) {
	c.order.Remove(el)
	delete(c.items, key)
}
