package ports

import "context"

// KeyStore is the minimal Redis-shaped capability set the Key Manager (C3)
// needs (§6.2): atomic GET/SET/SETEX/DELETE, a sorted set for the
// expiring-keys index, sets for user/venue membership, and a hash for
// version history. rediskeystore.Store implements this against a real
// Redis; a map-backed fake implements it for tests.
type KeyStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttlSeconds int64) error
	Delete(ctx context.Context, key string) error

	SetAdd(ctx context.Context, set, member string) error
	SetMembers(ctx context.Context, set string) ([]string, error)

	// ZAdd indexes member by score (unix seconds) in a sorted set.
	ZAdd(ctx context.Context, zset, member string, score float64) error
	// ZRangeByScore returns members with score in [min, max].
	ZRangeByScore(ctx context.Context, zset string, min, max float64) ([]string, error)

	HSet(ctx context.Context, hash, field, value string) error
	HGetAll(ctx context.Context, hash string) (map[string]string, error)

	// Keys returns all keys matching a prefix, for the expiration sweeper's
	// grace-period scan. Not used on any latency-sensitive path.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
