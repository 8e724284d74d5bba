package recordstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// redisScanCount is the COUNT hint passed to SCAN.
const redisScanCount = 256

// RedisStore persists each record as a string key holding its tagged encoding.
// Keys have the form "<prefix>:<namespace>:<base58 address>".
type RedisStore struct {
	client *redis.Client
	ns     streak.Namespace
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a RedisStore. An empty prefix defaults to "civicstreak".
func NewRedisStore(client *redis.Client, ns streak.Namespace, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "civicstreak"
	}
	return &RedisStore{client: client, ns: ns, prefix: prefix, logger: logger}
}

// OpenRedis parses a redis:// URL, connects and pings the server.
func OpenRedis(ctx context.Context, url string, ns streak.Namespace, prefix string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, ns, prefix, logger), nil
}

func (s *RedisStore) keyPrefix() string {
	return s.prefix + ":" + string(s.ns) + ":"
}

func (s *RedisStore) key(owner streak.Identity) string {
	return s.keyPrefix() + streak.DeriveAddress(s.ns, owner).String()
}

// Namespace implements Backend.
func (s *RedisStore) Namespace() streak.Namespace { return s.ns }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, owner streak.Identity) (*streak.Record, error) {
	data, err := s.client.Get(ctx, s.key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, streak.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get record", err)
	}
	rec, err := streak.Decode(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, owner streak.Identity, rec streak.Record) error {
	if err := checkWrite(owner, rec); err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(owner), streak.Encode(rec), 0).Result()
	if err != nil {
		return unavailable("create record", err)
	}
	if !ok {
		return streak.ErrAlreadyExists
	}
	return nil
}

// Put implements Store with an optimistic WATCH/MULTI transaction. A write to
// the key between WATCH and EXEC aborts the transaction and reports ErrConflict.
func (s *RedisStore) Put(ctx context.Context, owner streak.Identity, expected, next streak.Record) error {
	if err := checkWrite(owner, next); err != nil {
		return err
	}
	key := s.key(owner)
	want := streak.Encode(expected)
	data := streak.Encode(next)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return streak.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(current, want) {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	case errors.Is(err, streak.ErrNotFound), errors.Is(err, ErrConflict):
		return err
	default:
		return unavailable("put record", err)
	}
}

// Scan implements Scanner. Keys are collected with SCAN, sorted, then read
// one by one; records deleted in between are skipped.
func (s *RedisStore) Scan(ctx context.Context, fn func(streak.Address, streak.Record) error) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	sort.Strings(keys)

	prefix := s.keyPrefix()
	for _, key := range keys {
		addr, err := streak.ParseAddress(strings.TrimPrefix(key, prefix))
		if err != nil {
			s.logger.Warn("skipping foreign key in record namespace", zap.String("key", key))
			continue
		}
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return unavailable("scan records", err)
		}
		rec, err := streak.Decode(data)
		if err != nil {
			return err
		}
		if err := fn(addr, rec); err != nil {
			return err
		}
	}
	return nil
}

// Count implements Scanner.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	// SCAN may return a key more than once.
	seen := make(map[string]struct{})
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.keyPrefix()+"*", redisScanCount).Result()
		if err != nil {
			return nil, unavailable("scan keys", err)
		}
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Close implements Backend.
func (s *RedisStore) Close() error { return s.client.Close() }
