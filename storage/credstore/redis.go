package credstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/athenalms/portal/core"
)

type redisStore struct {
	rdb    *redis.Client
	prefix string
}

var _ Store = (*redisStore)(nil)

// NewRedisStore returns a redis-backed Store so credentials survive portal
// restarts and are shared across replicas.
func NewRedisStore(conf *core.Config) (Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: conf.CredStore.RedisAddr,
		DB:   conf.CredStore.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "pinging redis")
	}
	return &redisStore{rdb: rdb, prefix: "portal:cred:"}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "getting credential")
	}
	return val, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string) error {
	return errors.Wrap(s.rdb.Set(ctx, s.prefix+key, value, 0).Err(), "setting credential")
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, s.prefix+key)
	}
	return errors.Wrap(s.rdb.Del(ctx, prefixed...).Err(), "deleting credentials")
}
