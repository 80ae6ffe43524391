package rater

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/embedding"
)

// VectorStore is an optional second cache tier for anchor embeddings, shared between processes.
// Namespace separates embedding models whose vectors are not comparable.
type VectorStore interface {
	Get(ctx context.Context, namespace string, key core.AnchorCacheKey) ([]embedding.Vector, bool, error)
	Put(ctx context.Context, namespace string, key core.AnchorCacheKey, vecs []embedding.Vector) error
}

// Digest returns a stable hex digest of the ordered statements in key.
func Digest(key core.AnchorCacheKey) string {
	return strconv.FormatUint(xxhash.Sum64String(key.String()), 16)
}

// MemoryVectorStore is an in-process VectorStore.
type MemoryVectorStore struct {
	mu   sync.RWMutex
	data map[string][]embedding.Vector
}

// NewMemoryVectorStore creates an empty in-memory store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{data: make(map[string][]embedding.Vector)}
}

func memKey(namespace string, key core.AnchorCacheKey) string {
	return strconv.Itoa(len(namespace)) + ":" + namespace + key.String()
}

// Get implements VectorStore.
func (m *MemoryVectorStore) Get(ctx context.Context, namespace string, key core.AnchorCacheKey) ([]embedding.Vector, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[memKey(namespace, key)]
	return v, ok, nil
}

// Put implements VectorStore.
func (m *MemoryVectorStore) Put(ctx context.Context, namespace string, key core.AnchorCacheKey, vecs []embedding.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[memKey(namespace, key)] = vecs
	return nil
}

const defaultRedisVectorPrefix = "synthpanel:anchors"

// RedisVectorStore keeps anchor vectors in Redis under prefix:namespace:digest, without expiry.
type RedisVectorStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisVectorStore creates a Redis-backed store. An empty prefix uses "synthpanel:anchors".
func NewRedisVectorStore(client redis.UniversalClient, prefix string) *RedisVectorStore {
	if prefix == "" {
		prefix = defaultRedisVectorPrefix
	}
	return &RedisVectorStore{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

func (r *RedisVectorStore) key(namespace string, key core.AnchorCacheKey) string {
	return r.prefix + ":" + namespace + ":" + Digest(key)
}

type redisAnchorEntry struct {
	Statements []string    `json:"statements"`
	Vectors    [][]float64 `json:"vectors"`
}

// Get implements VectorStore. Entries whose stored statements differ from key (digest collision) are misses.
func (r *RedisVectorStore) Get(ctx context.Context, namespace string, key core.AnchorCacheKey) ([]embedding.Vector, bool, error) {
	raw, err := r.client.Get(ctx, r.key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rater: redis get: %w", err)
	}
	var entry redisAnchorEntry
	if err := sonic.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("rater: redis decode: %w", err)
	}
	if len(entry.Statements) != len(key) || len(entry.Vectors) != len(key) {
		return nil, false, nil
	}
	for i, s := range entry.Statements {
		if s != key[i] {
			return nil, false, nil
		}
	}
	vecs := make([]embedding.Vector, len(entry.Vectors))
	for i, v := range entry.Vectors {
		vecs[i] = embedding.Vector(v)
	}
	return vecs, true, nil
}

// Put implements VectorStore.
func (r *RedisVectorStore) Put(ctx context.Context, namespace string, key core.AnchorCacheKey, vecs []embedding.Vector) error {
	entry := redisAnchorEntry{Statements: key[:], Vectors: make([][]float64, len(vecs))}
	for i, v := range vecs {
		entry.Vectors[i] = v
	}
	raw, err := sonic.Marshal(entry)
	if err != nil {
		return fmt.Errorf("rater: redis encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key(namespace, key), raw, 0).Err(); err != nil {
		return fmt.Errorf("rater: redis set: %w", err)
	}
	return nil
}
