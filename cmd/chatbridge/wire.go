package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"chatbridge/internal/channel"
	"chatbridge/internal/config"
	"chatbridge/internal/domain"
	"chatbridge/internal/queue"
	"chatbridge/internal/realtime"
	"chatbridge/internal/responder"
	"chatbridge/internal/storage"
)

// services holds the shared collaborators built from config.
type services struct {
	realtime   domain.RealtimeService
	subscriber domain.Subscriber
	queue      domain.QueueStore
	blobs      *storage.Filesystem
	sqlite     *queue.SQLite

	closers []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// redisClients shares one client per URL between realtime and queue.
type redisClients map[string]*redis.Client

func (rc redisClients) get(rawURL string, s *services) (*redis.Client, error) {
	if c, ok := rc[rawURL]; ok {
		return c, nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	rc[rawURL] = c
	s.closers = append(s.closers, c.Close)
	return c, nil
}

func buildServices(cfg *config.Config, logger *slog.Logger) (*services, error) {
	s := &services{}
	clients := redisClients{}

	blobs, err := storage.NewFilesystem(storage.Config{
		Root:         cfg.Storage.Root,
		PublicURL:    cfg.Storage.PublicURL,
		PublicPrefix: cfg.Storage.PublicPrefix,
		MaxSizeBytes: cfg.Server.MaxUploadBytes,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	s.blobs = blobs

	switch cfg.Realtime.Backend {
	case "redis":
		rdb, err := clients.get(cfg.Realtime.RedisURL, s)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("realtime: %w", err)
		}
		rt := realtime.NewRedis(rdb, logger)
		s.realtime, s.subscriber = rt, rt
	default:
		hub := realtime.NewHub(64, logger)
		s.realtime, s.subscriber = hub, hub
		s.closers = append(s.closers, func() error { hub.Close(); return nil })
	}

	switch cfg.Queue.Backend {
	case "redis":
		rdb, err := clients.get(cfg.Queue.RedisURL, s)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("queue: %w", err)
		}
		s.queue = queue.NewRedis(rdb, logger)
	case "memory":
		s.queue = queue.NewMemory()
	default:
		db, err := queue.NewSQLite(cfg.Queue.DBPath, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("queue: %w", err)
		}
		s.queue, s.sqlite = db, db
		s.closers = append(s.closers, db.Close)
	}

	return s, nil
}

// pingRedis checks that the redis server at rawURL answers.
func pingRedis(ctx context.Context, rawURL string) error {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	defer c.Close()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}

func newServer(cfg *config.Config, s *services, logger *slog.Logger) *channel.Server {
	metricsEndpoint := ""
	if cfg.Metrics.Enabled {
		metricsEndpoint = cfg.Metrics.Endpoint
	}
	return channel.NewServer(channel.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		WebhookPath:       cfg.Server.WebhookPath,
		Secret:            cfg.Server.Secret,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
		PushRatePerMinute: cfg.Server.PushRatePerMinute,
		PushBurst:         cfg.Server.PushBurst,
		StorageRoot:       s.blobs.Root(),
		PublicPrefix:      s.blobs.PublicPrefix(),
		MetricsEndpoint:   metricsEndpoint,
		Version:           version,
		Driver: &channel.Config{
			MatchingData:   cfg.Driver.MatchingData,
			Realtime:       s.realtime,
			Queue:          s.queue,
			Blobs:          s.blobs,
			Event:          cfg.Realtime.Event,
			CacheDir:       filepath.ToSlash(cfg.Storage.CacheDir),
			ImageMaxWidth:  cfg.Storage.ImageMaxWidth,
			ImageMaxHeight: cfg.Storage.ImageMaxHeight,
			QueueTTL:       time.Duration(cfg.Queue.RetentionDays) * 24 * time.Hour,
			Logger:         logger,
		},
		Responder: responder.New(responder.Config{
			Replies:  cfg.Responder.Replies,
			Fallback: cfg.Responder.Fallback,
			Logger:   logger,
		}),
		Gateway: realtime.NewGateway(realtime.GatewayConfig{Subscriber: s.subscriber, Logger: logger}),
		Logger:  logger,
	})
}
