// Package memkeystore is an in-memory ports.KeyStore used by Key Manager
// tests so they don't need a live Redis, mirroring the teacher's preference
// for hand-written fakes over a mocking framework.
package memkeystore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type Store struct {
	mu     sync.Mutex
	values map[string]string
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64
	hashes map[string]map[string]string
}

func New() *Store {
	return &Store{
		values: make(map[string]string),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
		hashes: make(map[string]map[string]string),
	}
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// SetEx ignores TTL expiry (tests that need expiry drive simulated time
// through the key manager's own clock, not the store).
func (s *Store) SetEx(ctx context.Context, key, value string, _ int64) error {
	return s.Set(ctx, key, value)
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *Store) SetAdd(_ context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[set] == nil {
		s.sets[set] = make(map[string]struct{})
	}
	s.sets[set][member] = struct{}{}
	return nil
}

func (s *Store) SetMembers(_ context.Context, set string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for m := range s.sets[set] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ZAdd(_ context.Context, zset, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zsets[zset] == nil {
		s.zsets[zset] = make(map[string]float64)
	}
	s.zsets[zset][member] = score
	return nil
}

func (s *Store) ZRangeByScore(_ context.Context, zset string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	for m, sc := range s.zsets[zset] {
		if sc >= min && sc <= max {
			pairs = append(pairs, pair{m, sc})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out, nil
}

func (s *Store) HSet(_ context.Context, hash, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[hash] == nil {
		s.hashes[hash] = make(map[string]string)
	}
	s.hashes[hash][field] = value
	return nil
}

func (s *Store) HGetAll(_ context.Context, hash string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[hash]))
	for k, v := range s.hashes[hash] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
