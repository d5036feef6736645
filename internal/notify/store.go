package notify

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store remembers which notification ids have already been surfaced, so
// a restarted agent does not re-announce old records.
type Store interface {
	Seen(ctx context.Context, id int64) (bool, error)
	MarkSeen(ctx context.Context, ids ...int64) error
	Close() error
}

// ==========================
// In-memory store (default)
// ==========================

type memoryStore struct {
	mu   sync.RWMutex
	seen map[int64]struct{}
}

// NewMemoryStore returns a process-local Store.
func NewMemoryStore() Store {
	return &memoryStore{seen: make(map[int64]struct{})}
}

func (s *memoryStore) Seen(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok, nil
}

func (s *memoryStore) MarkSeen(_ context.Context, ids ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.seen[id] = struct{}{}
	}
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}

// ==========================
// Redis-backed store
// ==========================

const redisSeenKey = "doerhub:notifications:seen"

type redisStore struct {
	client *redis.Client
}

// NewRedisStore returns a Store persisted in a Redis set, surviving
// agent restarts.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Seen(ctx context.Context, id int64) (bool, error) {
	return s.client.SIsMember(ctx, redisSeenKey, strconv.FormatInt(id, 10)).Result()
}

func (s *redisStore) MarkSeen(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = strconv.FormatInt(id, 10)
	}
	return s.client.SAdd(ctx, redisSeenKey, members...).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
