// Package redis implements the one-time code store on Redis, for
// deployments that run more than one API instance or want codes to expire
// without a sweep. Keys carry a TTL and are removed on first use.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/model"
	"github.com/sakif/veriqo/internal/repository"
)

var _ repository.CodeStore = (*CodeStore)(nil)

// consumeScript deletes KEYS[1] when it holds ARGV[1]. Otherwise it bumps
// the failure counter in KEYS[2], which shares the code's TTL, and deletes
// both once the counter reaches ARGV[2]. Running it as a script makes the
// compare, the count and the delete one step.
var consumeScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	return 0
end
if current == ARGV[1] then
	redis.call("DEL", KEYS[1], KEYS[2])
	return 1
end
local misses = redis.call("INCR", KEYS[2])
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[2], ttl)
end
if misses >= tonumber(ARGV[2]) then
	redis.call("DEL", KEYS[1], KEYS[2])
end
return 0
`)

// CodeStore keeps OTPs and reset tokens under <prefix>:code:<kind>:<key>
// and failed attempts under the same key plus ":attempts".
type CodeStore struct {
	client *goredis.Client
	prefix string
}

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New connects and pings Redis.
func New(ctx context.Context, opts Options) (*CodeStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connecting to %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "veriqo"
	}
	return &CodeStore{client: client, prefix: prefix}, nil
}

func (s *CodeStore) key(kind model.CodeKind, key string) string {
	return strings.Join([]string{s.prefix, "code", string(kind), key}, ":")
}

func (s *CodeStore) attemptsKey(kind model.CodeKind, key string) string {
	return s.key(kind, key) + ":attempts"
}

func (s *CodeStore) PutCode(ctx context.Context, kind model.CodeKind, key, value string, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key(kind, key), value, ttl)
		pipe.Del(ctx, s.attemptsKey(kind, key))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: storing %s code: %w", kind, err)
	}
	return nil
}

func (s *CodeStore) ConsumeCode(ctx context.Context, kind model.CodeKind, key, value string) (bool, error) {
	keys := []string{s.key(kind, key), s.attemptsKey(kind, key)}
	n, err := consumeScript.Run(ctx, s.client, keys, value, repository.MaxCodeAttempts).Int()
	if err != nil {
		return false, fmt.Errorf("redis: consuming %s code: %w", kind, err)
	}
	return n == 1, nil
}

func (s *CodeStore) TakeCode(ctx context.Context, kind model.CodeKind, key string) (string, error) {
	value, err := s.client.GetDel(ctx, s.key(kind, key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", apperror.NotFound(string(kind)+" code", "provided")
		}
		return "", fmt.Errorf("redis: taking %s code: %w", kind, err)
	}
	return value, nil
}

// Ping reports whether Redis is reachable.
func (s *CodeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *CodeStore) Close() error {
	return s.client.Close()
}
