// Package redisstore keeps the leaderboard document in a Redis string with a
// companion revision counter. Compare-and-swap uses WATCH/MULTI/EXEC.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/okian/scoreboard/internal/adapters/store"
	"github.com/okian/scoreboard/internal/domain/model"
)

const (
	backendName = "redis"
	revSuffix   = ":rev"
)

// ErrInvalidConfig is returned by New for an empty key or address.
var ErrInvalidConfig = errors.New("invalid redis store config")

// errStale aborts a WATCH transaction whose revision moved before EXEC.
var errStale = errors.New("stale revision")

// Store is a store.VersionedStore backed by Redis.
type Store struct {
	rdb    redis.UniversalClient
	key    string
	revKey string
}

// New connects to addr, which is either host:port or a redis:// URL.
func New(addr, key string) (*Store, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: key must not be empty", ErrInvalidConfig)
	}
	opts, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	return NewWithClient(redis.NewClient(opts), key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb redis.UniversalClient, key string) *Store {
	return &Store{rdb: rdb, key: key, revKey: key + revSuffix}
}

func parseAddr(addr string) (*redis.Options, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("%w: address must not be empty", ErrInvalidConfig)
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

// Name implements store.VersionedStore.
func (s *Store) Name() string { return backendName }

// Verify pings the server.
func (s *Store) Verify(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return store.ClassifyTransport("redis ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Fetch implements store.VersionedStore.
func (s *Store) Fetch(ctx context.Context) (model.Document, error) {
	vals, err := s.rdb.MGet(ctx, s.key, s.revKey).Result()
	if err != nil {
		return model.Document{}, store.ClassifyTransport("redis fetch", err)
	}
	content, ok := vals[0].(string)
	if !ok {
		return model.Document{}, fmt.Errorf("redis fetch: %w", store.ErrNotFound)
	}
	rev, _ := vals[1].(string)
	records, err := store.Decode([]byte(content))
	if err != nil {
		return model.Document{}, err
	}
	return model.Document{Records: records, Revision: rev}, nil
}

// Provision implements store.VersionedStore.
func (s *Store) Provision(ctx context.Context) (string, error) {
	content, err := store.Encode(nil)
	if err != nil {
		return "", err
	}
	var incr *redis.IntCmd
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, s.key, content, 0)
			incr = p.Incr(ctx, s.revKey)
			return nil
		})
		return err
	}, s.key)
	if err != nil {
		return "", s.classify("redis provision", err)
	}
	return fmt.Sprint(incr.Val()), nil
}

// Write implements store.VersionedStore.
func (s *Store) Write(ctx context.Context, records []model.ScoreRecord, expectedRevision string) (string, error) {
	content, err := store.Encode(records)
	if err != nil {
		return "", err
	}
	var incr *redis.IntCmd
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, s.revKey).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis write: %w", store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if cur != expectedRevision {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, s.key, content, 0)
			incr = p.Incr(ctx, s.revKey)
			return nil
		})
		return err
	}, s.key, s.revKey)
	if err != nil {
		return "", s.classify("redis write", err)
	}
	return fmt.Sprint(incr.Val()), nil
}

func (s *Store) classify(op string, err error) error {
	switch {
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%s: %w", op, store.ErrConflict)
	case errors.Is(err, store.ErrNotFound):
		return err
	default:
		return store.ClassifyTransport(op, err)
	}
}
