package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	logx "monitorq/pkg/logx"
)

type redisStore struct {
	client   *redis.Client
	log      logx.Logger
	valueKey string
	typeKey  string
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	st := newRedisStore(client, cfg.Prefix, log)

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("redis ping failed; retrying", logx.String("addr", addr), logx.Duration("backoff", wait), logx.Err(err))
	}
	if err := backoff.RetryNotify(ping, backoff.WithMaxRetries(bo, uint64(attempts-1)), notify); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Debug("redis settings store opened", logx.String("addr", addr), logx.Int("db", cfg.DB))
	return st, nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "monitorq"
	}
	return &redisStore{
		client:   client,
		log:      log,
		valueKey: prefix + ":settings",
		typeKey:  prefix + ":settings:type",
	}
}

func (s *redisStore) GetSetting(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.HGet(ctx, s.valueKey, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) SetSetting(ctx context.Context, key string, value []byte, category string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.valueKey, key, value)
		p.HSet(ctx, s.typeKey, key, category)
		return nil
	})
	return err
}

func (s *redisStore) Close() error { return s.client.Close() }
