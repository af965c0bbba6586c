package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// RedisBackend stores each record as a string key and keeps a sorted set of
// job ids scored by creation time:
//
//	<prefix>job:<id>  -> record JSON
//	<prefix>jobs      -> ZSET(id, created_at unix nanos)
//
// Updates use WATCH/MULTI optimistic transactions, retried with backoff when
// another writer touched the key in between.
type RedisBackend struct {
	client     redis.UniversalClient
	prefix     string
	locks      *keyedMutex
	maxRetries uint64
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "pipeline:".
	Prefix string
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w: %w", opts.Addr, contracts.ErrStorage, err)
	}
	return NewRedisBackend(client, opts.Prefix), nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "pipeline:"
	}
	return &RedisBackend{client: client, prefix: prefix, locks: newKeyedMutex(), maxRetries: 5}
}

// NewRedis creates a Redis-backed JobStore.
func NewRedis(ctx context.Context, opts RedisOptions, storeOpts ...Option) (contracts.JobStore, error) {
	b, err := OpenRedis(ctx, opts)
	if err != nil {
		return nil, err
	}
	return New(b, storeOpts...), nil
}

func (r *RedisBackend) key(id contracts.JobID) string {
	return r.prefix + "job:" + string(id)
}

func (r *RedisBackend) indexKey() string {
	return r.prefix + "jobs"
}

func (r *RedisBackend) Insert(ctx context.Context, rec Record) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(rec.ID), rec.Data, 0)
		p.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: string(rec.ID)})
		return nil
	})
	if err != nil {
		return storageErr("insert", rec.ID, err)
	}
	return nil
}

func (r *RedisBackend) Update(ctx context.Context, id contracts.JobID, fn func(Record) (Record, error)) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	key := r.key(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(id)
		}
		if err != nil {
			return storageErr("load", id, err)
		}
		next, err := fn(Record{ID: id, Data: data})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next.Data, 0)
			return nil
		})
		return err
	}

	op := func() error {
		err := r.client.Watch(ctx, txf, key)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		// Domain and storage errors are final; only lost races are retried.
		return backoff.Permanent(err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	err := backoff.Retry(op, policy)
	if err == nil || errors.Is(err, contracts.ErrStorage) || isDomainErr(err) {
		return err
	}
	return storageErr("update", id, err)
}

// isDomainErr reports whether err came from job semantics rather than I/O.
func isDomainErr(err error) bool {
	return errors.Is(err, contracts.ErrJobNotFound) ||
		errors.Is(err, contracts.ErrJobFinalized) ||
		errors.Is(err, contracts.ErrInvalidTransition) ||
		errors.Is(err, contracts.ErrTaskNotFound) ||
		errors.Is(err, contracts.ErrSchemaVersion)
}

func (r *RedisBackend) Load(ctx context.Context, id contracts.JobID) (Record, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, notFound(id)
	}
	if err != nil {
		return Record{}, storageErr("load", id, err)
	}
	return Record{ID: id, Data: data}, nil
}

func (r *RedisBackend) Scan(ctx context.Context) ([]Record, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w: %w", contracts.ErrStorage, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(contracts.JobID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w: %w", contracts.ErrStorage, err)
	}

	out := make([]Record, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// deleted between ZREVRANGE and MGET
			continue
		}
		out = append(out, Record{ID: contracts.JobID(ids[i]), Data: []byte(s)})
	}
	return out, nil
}

func (r *RedisBackend) Remove(ctx context.Context, id contracts.JobID) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key(id))
		p.ZRem(ctx, r.indexKey(), string(id))
		return nil
	})
	if err != nil {
		return storageErr("delete", id, err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
