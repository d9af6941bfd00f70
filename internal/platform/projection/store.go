package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a projection key is absent or has expired.
// Query handlers treat it as a signal to fall back to the primary store.
var ErrCacheMiss = errors.New("projection cache miss")

// Store holds cached projections in Redis: hash-backed counter aggregates and
// sorted-set rankings, each with a TTL so stale or corrupted state ages out
// on its own instead of requiring manual invalidation.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// ApplyCounters atomically increments hash fields by the given deltas and
// refreshes the key's TTL. The pipeline is transactional so a projection
// update is never half-applied.
func (s *Store) ApplyCounters(ctx context.Context, key string, deltas map[string]float64, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	for field, delta := range deltas {
		pipe.HIncrByFloat(ctx, key, field, delta)
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply counters to %s: %w", key, err)
	}
	return nil
}

// Counters returns all hash fields of a projection key as float64 values.
// An absent or expired key yields ErrCacheMiss.
func (s *Store) Counters(ctx context.Context, key string) (map[string]float64, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read counters from %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrCacheMiss
	}

	out := make(map[string]float64, len(fields))
	for field, raw := range fields {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s.%s is not numeric: %w", key, field, err)
		}
		out[field] = v
	}
	return out, nil
}

// IncrRank increments a member's score in a ranking and refreshes the TTL.
func (s *Store) IncrRank(ctx context.Context, key, member string, delta float64, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZIncrBy(ctx, key, delta, member)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment rank %s in %s: %w", member, key, err)
	}
	return nil
}

// RankedEntry is one member of a ranking projection.
type RankedEntry struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// TopRanked returns the n highest-scored members of a ranking, best first.
// An absent or expired key yields ErrCacheMiss.
func (s *Store) TopRanked(ctx context.Context, key string, n int64) ([]RankedEntry, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read ranking %s: %w", key, err)
	}
	if len(zs) == 0 {
		return nil, ErrCacheMiss
	}

	out := make([]RankedEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, RankedEntry{Member: member, Score: z.Score})
	}
	return out, nil
}
