package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "cronsql/pkg/logx"
)

const defaultRedisKey = "cronsql:next_run"

// redisStore keeps every record as a field of one hash so the whole state is
// inspectable with HGETALL and survives process restarts.
type redisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Debug("redis store opened", logx.String("addr", addr), logx.Int("db", cfg.Redis.DB))
	return newRedisStore(client, cfg.Redis.Key, log), nil
}

func newRedisStore(client *redis.Client, key string, log logx.Logger) *redisStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	return &redisStore{client: client, key: key, log: log}
}

func (s *redisStore) GetNextRun(ctx context.Context, key string) (int64, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, false, nil
	}
	raw, err := s.client.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return parseNextRun(raw)
}

func (s *redisStore) SetNextRun(ctx context.Context, key string, nextRun int64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return s.client.HSet(ctx, s.key, key, strconv.FormatInt(nextRun, 10)).Err()
}

func (s *redisStore) List(ctx context.Context) ([]Record, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	m := make(map[string]int64, len(all))
	for k, raw := range all {
		v, ok, _ := parseNextRun(raw)
		if ok {
			m[k] = v
		}
	}
	return sortedRecords(m), nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// parseNextRun treats a non-numeric stored value as absent.
func parseNextRun(raw string) (int64, bool, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}
