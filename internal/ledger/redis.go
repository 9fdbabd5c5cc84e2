package ledger

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const saveChunk = 500

// RedisStore keeps the ledger in a redis set.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// RedisOptions configure the redis connection.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Key      string
}

// NewRedisStore connects a ledger store to redis.
func NewRedisStore(opts RedisOptions) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	key := opts.Key
	if key == "" {
		key = "offerwatch:sent_notifications"
	}
	return &RedisStore{rdb: rdb, key: key}
}

// Load returns every member of the ledger set.
func (s *RedisStore) Load(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", s.key, err)
	}
	return keys, nil
}

// Save adds keys to the set in a single transaction. Existing members are never removed.
func (s *RedisStore) Save(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for start := 0; start < len(keys); start += saveChunk {
			end := min(start+saveChunk, len(keys))
			members := make([]interface{}, 0, end-start)
			for _, k := range keys[start:end] {
				members = append(members, k)
			}
			pipe.SAdd(ctx, s.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sadd %s: %w", s.key, err)
	}
	return nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ Store = (*RedisStore)(nil)
