package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"gihan9a/docpatch/internal/document"
)

const defaultRedisKeyPrefix = "docpatch:doc:"

// casScript sets version and body only when the stored version, 0 when the
// hash is absent, equals ARGV[1]. It returns the stored version on mismatch
// and -1 on success.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then cur = '0' end
if cur ~= ARGV[1] then
	return tonumber(cur)
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'body', ARGV[3])
return -1
`)

// RedisStore keeps each document in a hash with version and body fields.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	owned  bool
}

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	s := NewRedisStoreFromClient(rdb, opts.KeyPrefix)
	s.owned = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. Close does not close it.
func NewRedisStoreFromClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Read(ctx context.Context, id string) (*document.Document, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(id), "version", "body").Result()
	if err != nil {
		return nil, err
	}
	if vals[0] == nil {
		return nil, ErrNotFound
	}
	vs, _ := vals[0].(string)
	body, _ := vals[1].(string)
	version, err := strconv.ParseInt(vs, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding %q version: %w", id, err)
	}
	root, err := document.Parse([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("decoding %q body: %w", id, err)
	}
	return &document.Document{ID: id, Version: version, Root: root}, nil
}

func (s *RedisStore) ConditionalWrite(ctx context.Context, id string, expected int64, doc *document.Document) error {
	if err := validateWrite(id, expected, doc); err != nil {
		return err
	}
	body, err := doc.Root.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding %q: %w", id, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := casScript.Run(ctx, s.rdb, []string{s.key(id)},
		strconv.FormatInt(expected, 10),
		strconv.FormatInt(doc.Version, 10),
		string(body),
	).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis cas for %q returned nil", id)
		}
		return err
	}
	if current >= 0 {
		return conflict(id, expected, current)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.owned {
		return s.rdb.Close()
	}
	return nil
}
