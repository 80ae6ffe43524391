package analytics

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "synthpanel:analytics:items"

// RedisStore implements Store using Redis (sorted set by timestamp, value = JSON ItemRecord).
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a store that uses the given Redis client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, rec ItemRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	raw, err := sonic.MarshalString(rec)
	if err != nil {
		return err
	}
	score := float64(rec.At.UnixNano()) / 1e9
	return r.client.ZAdd(ctx, r.key, redis.Z{Score: score, Member: raw}).Err()
}

// Query implements Store by reading the time window from the sorted set and aggregating in memory.
func (r *RedisStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	min, max := "-inf", "+inf"
	if !q.From.IsZero() {
		min = strconv.FormatFloat(float64(q.From.UnixNano())/1e9, 'f', -1, 64)
	}
	if !q.To.IsZero() {
		max = strconv.FormatFloat(float64(q.To.UnixNano())/1e9, 'f', -1, 64)
	}
	const batch = 10000
	var records []ItemRecord
	for offset := int64(0); ; offset += batch {
		vals, err := r.client.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
			Min: min, Max: max, Offset: offset, Count: batch,
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, mem := range vals {
			var rec ItemRecord
			if err := sonic.UnmarshalString(mem, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		if len(vals) < batch {
			break
		}
	}
	return aggregate(records, q), nil
}
