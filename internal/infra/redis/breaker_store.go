package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/scrapeguard/internal/resilience/breaker"
)

const (
	fieldCount = "count"
	fieldLast  = "last"
)

// Key helpers
func entryKey(key string) string {
	return fmt.Sprintf("breaker:%s", key)
}

func indexKey() string {
	return "breaker:keys"
}

// BreakerStore implements breaker.Store on Redis so every instance sees the
// same circuit state. Each key is a hash with a failure count and the unix
// nano time of the last failure; a set indexes the tracked keys.
type BreakerStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBreakerStore creates a store. Entries expire after ttl without a new
// failure; ttl <= 0 keeps them until reset.
func NewBreakerStore(c *Client, ttl time.Duration) *BreakerStore {
	return &BreakerStore{rdb: c.rdb, ttl: ttl}
}

var _ breaker.Store = (*BreakerStore)(nil)

func (s *BreakerStore) Get(ctx context.Context, key string) (breaker.Entry, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, entryKey(key)).Result()
	if err != nil {
		return breaker.Entry{}, false, fmt.Errorf("hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return breaker.Entry{}, false, nil
	}
	e, err := parseEntry(fields)
	if err != nil {
		return breaker.Entry{}, false, err
	}
	return e, true, nil
}

// Increment bumps the count and stamps the time in one MULTI block.
func (s *BreakerStore) Increment(ctx context.Context, key string, at time.Time) (breaker.Entry, error) {
	k := entryKey(key)

	var count *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.HIncrBy(ctx, k, fieldCount, 1)
		pipe.HSet(ctx, k, fieldLast, at.UnixNano())
		pipe.SAdd(ctx, indexKey(), key)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return breaker.Entry{}, fmt.Errorf("increment failed: %w", err)
	}

	return breaker.Entry{Failures: int(count.Val()), LastFailure: at}, nil
}

func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, entryKey(key))
		pipe.SRem(ctx, indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

func (s *BreakerStore) Clear(ctx context.Context) error {
	keys, err := s.rdb.SMembers(ctx, indexKey()).Result()
	if err != nil {
		return fmt.Errorf("smembers failed: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Del(ctx, entryKey(k))
		}
		pipe.Del(ctx, indexKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	return nil
}

// Snapshot reads every indexed key. Keys whose hash has expired are dropped
// from the index.
func (s *BreakerStore) Snapshot(ctx context.Context) (map[string]breaker.Entry, error) {
	keys, err := s.rdb.SMembers(ctx, indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers failed: %w", err)
	}
	if len(keys) == 0 {
		return map[string]breaker.Entry{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, entryKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot failed: %w", err)
	}

	out := make(map[string]breaker.Entry, len(keys))
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, keys[i])
			continue
		}
		e, err := parseEntry(fields)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", keys[i], err)
		}
		out[keys[i]] = e
	}

	if len(stale) > 0 {
		_ = s.rdb.SRem(ctx, indexKey(), stale...).Err()
	}
	return out, nil
}

func parseEntry(fields map[string]string) (breaker.Entry, error) {
	var e breaker.Entry

	if v, ok := fields[fieldCount]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return e, fmt.Errorf("invalid count %q: %w", v, err)
		}
		e.Failures = n
	}
	if v, ok := fields[fieldLast]; ok {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return e, fmt.Errorf("invalid last failure %q: %w", v, err)
		}
		e.LastFailure = time.Unix(0, ns)
	}
	return e, nil
}
