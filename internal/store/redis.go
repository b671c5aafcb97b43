package store

import (
	"context"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrMalformed = errors.New("malformed record")
)

type Options struct {
	StatusTTL      time.Duration
	ErrorBufferTTL time.Duration
}

// RedisStore is the shared state store. Every worker writes only its own
// keys; everything else is read-only to it.
type RedisStore struct {
	client    redis.UniversalClient
	statusTTL time.Duration
	bufferTTL time.Duration
}

func NewRedisStore(client redis.UniversalClient, options Options) *RedisStore {
	if options.StatusTTL <= 0 {
		options.StatusTTL = 24 * time.Hour
	}
	if options.ErrorBufferTTL <= 0 {
		options.ErrorBufferTTL = 24 * time.Hour
	}
	return &RedisStore{
		client:    client,
		statusTTL: options.StatusTTL,
		bufferTTL: options.ErrorBufferTTL,
	}
}

// Connect parses url, then pings with linear backoff until one ping succeeds
// or retries run out.
func Connect(ctx context.Context, url string, retries int, backoffStep time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	if retries < 0 {
		retries = 0
	}
	client := redis.NewClient(opts)
	err = retry.Retry(func(attempt uint) error {
		return client.Ping(ctx).Err()
	}, strategy.Limit(uint(retries)+1), strategy.Backoff(backoff.Linear(backoffStep)))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", opts.Addr)
	}
	return client, nil
}

func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx).Err(), "ping redis")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	keys := []string{}
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", pattern)
	}
	return keys, nil
}

func (s *RedisStore) deleteMatching(ctx context.Context, patterns ...string) (int, error) {
	total := 0
	for _, pattern := range patterns {
		keys, err := s.scanKeys(ctx, pattern)
		if err != nil {
			return total, err
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return total, errors.Wrapf(err, "delete %s", pattern)
		}
		total += len(keys)
	}
	return total, nil
}
