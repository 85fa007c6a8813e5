// Package rediskeystore implements ports.KeyStore against a real Redis,
// grounded in rishavpaul-system-design's rate-limiter gateway use of
// redis.Cmdable for every GET/SET/SADD/ZADD/HSET primitive the Key
// Manager needs.
package rediskeystore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store wraps a redis.Cmdable so both a standalone client and a cluster
// client satisfy ports.KeyStore identically.
type Store struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keystore get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("keystore set %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetEx(ctx context.Context, key, value string, ttlSeconds int64) error {
	if err := s.rdb.Set(ctx, key, value, secondsToDuration(ttlSeconds)).Err(); err != nil {
		return fmt.Errorf("keystore setex %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("keystore delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetAdd(ctx context.Context, set, member string) error {
	if err := s.rdb.SAdd(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("keystore sadd %s: %w", set, err)
	}
	return nil
}

func (s *Store) SetMembers(ctx context.Context, set string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("keystore smembers %s: %w", set, err)
	}
	return members, nil
}

func (s *Store) ZAdd(ctx context.Context, zset, member string, score float64) error {
	if err := s.rdb.ZAdd(ctx, zset, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("keystore zadd %s: %w", zset, err)
	}
	return nil
}

func (s *Store) ZRangeByScore(ctx context.Context, zset string, min, max float64) ([]string, error) {
	members, err := s.rdb.ZRangeByScore(ctx, zset, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("keystore zrangebyscore %s: %w", zset, err)
	}
	return members, nil
}

func (s *Store) HSet(ctx context.Context, hash, field, value string) error {
	if err := s.rdb.HSet(ctx, hash, field, value).Err(); err != nil {
		return fmt.Errorf("keystore hset %s: %w", hash, err)
	}
	return nil
}

func (s *Store) HGetAll(ctx context.Context, hash string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, hash).Result()
	if err != nil {
		return nil, fmt.Errorf("keystore hgetall %s: %w", hash, err)
	}
	return m, nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.rdb.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("keystore keys %s*: %w", prefix, err)
	}
	return keys, nil
}
