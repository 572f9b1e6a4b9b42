package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"chatbridge/internal/domain"
)

// Redis publishes through redis pub/sub. Liveness is probed with PUBSUB NUMSUB,
// so a channel exists while any gateway instance holds a subscription on it.
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

func (r *Redis) ChannelExists(ctx context.Context, channel string) (bool, error) {
	counts, err := r.rdb.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return false, fmt.Errorf("probe channel %s: %w", channel, err)
	}
	return counts[channel] > 0, nil
}

func (r *Redis) Publish(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(domain.RealtimeEvent{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	receivers, err := r.rdb.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	if receivers == 0 {
		return domain.ErrNoSubscriber
	}
	return nil
}

// Subscribe forwards redis messages on channel until cancel is called.
func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan domain.RealtimeEvent, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := r.rdb.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so NUMSUB sees it.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan domain.RealtimeEvent, 32)
	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.RealtimeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn("invalid realtime payload", "channel", channel, "err", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	stop := func() {
		cancel()
		pubsub.Close()
	}
	return out, stop, nil
}
