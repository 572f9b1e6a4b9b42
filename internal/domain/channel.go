package domain

import (
	"context"
	"io"
	"time"
)

// ChannelPrefix prefixes a recipient id to form its delivery channel.
const ChannelPrefix = "chat_"

// RealtimeService publishes events to per-recipient pub/sub channels.
type RealtimeService interface {
	// ChannelExists reports whether at least one subscriber listens on the channel.
	ChannelExists(ctx context.Context, channel string) (bool, error)
	Publish(ctx context.Context, channel, event string, payload any) error
}

// RealtimeEvent is what subscribers receive for each publish.
type RealtimeEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber is implemented by realtime services that can feed local listeners.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan RealtimeEvent, func(), error)
}

// BlobStore persists uploaded media and hands out public URLs.
type BlobStore interface {
	Put(ctx context.Context, path string, r io.Reader) error
	// ResizeAndSave decodes an image, fits it into maxW×maxH and stores it as PNG.
	ResizeAndSave(ctx context.Context, r io.Reader, maxW, maxH int, path string) error
	URL(path string) string
}

// QueueStore is the offline reply queue keyed by channel.
type QueueStore interface {
	Get(ctx context.Context, key string) ([]Reply, error)
	Put(ctx context.Context, key string, replies []Reply, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// QueueAppender is implemented by queue stores that append atomically.
type QueueAppender interface {
	Append(ctx context.Context, key string, replies []Reply, ttl time.Duration) error
}
