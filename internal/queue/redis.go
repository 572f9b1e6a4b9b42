package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"chatbridge/internal/domain"
)

// Redis stores each queue as a redis list with a key expiry.
type Redis struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedis(rdb *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) ([]domain.Reply, error) {
	vals, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load queue %s: %w", key, err)
	}
	replies := make([]domain.Reply, 0, len(vals))
	for _, v := range vals {
		var reply domain.Reply
		if err := json.Unmarshal([]byte(v), &reply); err != nil {
			r.logger.Warn("skipping malformed queued reply", "key", key, "err", err)
			continue
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

func encodeEach(replies []domain.Reply) ([]any, error) {
	values := make([]any, 0, len(replies))
	for _, reply := range replies {
		data, err := json.Marshal(reply)
		if err != nil {
			return nil, fmt.Errorf("marshal reply: %w", err)
		}
		values = append(values, string(data))
	}
	return values, nil
}

// Put replaces the list stored under key.
func (r *Redis) Put(ctx context.Context, key string, replies []domain.Reply, ttl time.Duration) error {
	values, err := encodeEach(replies)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save queue %s: %w", key, err)
	}
	return nil
}

// Append pushes replies and refreshes the expiry in one transaction.
func (r *Redis) Append(ctx context.Context, key string, replies []domain.Reply, ttl time.Duration) error {
	if len(replies) == 0 {
		return nil
	}
	values, err := encodeEach(replies)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append queue %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete queue %s: %w", key, err)
	}
	return nil
}
