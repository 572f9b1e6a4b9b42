// Package channel implements the web chat driver: it normalizes webhook
// requests, stores their uploads, builds wire replies and delivers them
// either in the HTTP response or through the realtime service.
package channel

import (
	"log/slog"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/queue"
)

const (
	// DefaultEvent is the realtime event name replies are published under.
	DefaultEvent    = "chat_message"
	defaultCacheDir = "bot_file_cache"
	defaultMaxSide  = 600
)

// Config holds the collaborators shared by every request.
type Config struct {
	// MatchingData is the field set a request must carry for its replies to
	// be answered in the HTTP response.
	MatchingData map[string]string

	Realtime domain.RealtimeService
	Queue    domain.QueueStore
	Blobs    domain.BlobStore

	Event          string
	CacheDir       string
	ImageMaxWidth  int
	ImageMaxHeight int
	QueueTTL       time.Duration

	Logger *slog.Logger
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Event == "" {
		out.Event = DefaultEvent
	}
	if out.CacheDir == "" {
		out.CacheDir = defaultCacheDir
	}
	if out.ImageMaxWidth <= 0 {
		out.ImageMaxWidth = defaultMaxSide
	}
	if out.ImageMaxHeight <= 0 {
		out.ImageMaxHeight = defaultMaxSide
	}
	if out.QueueTTL <= 0 {
		out.QueueTTL = queue.DefaultRetention
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// Driver handles one request/response cycle. It is not safe for concurrent
// use and must not outlive the request it was created for.
type Driver struct {
	cfg     *Config
	logger  *slog.Logger
	fields  map[string]string
	uploads []Upload

	messages []*domain.IncomingMessage
	replies  []domain.OutgoingItem
	status   int
	errMsg   string
	channel  string

	pushed int
	queued int
}

// NewDriver creates the driver for one request. fields are the posted form
// values; uploads are the file parts in the order they should be attached.
func NewDriver(cfg *Config, fields map[string]string, uploads []Upload) *Driver {
	cfg = cfg.withDefaults()
	if fields == nil {
		fields = map[string]string{}
	}
	return &Driver{
		cfg:     cfg,
		logger:  cfg.Logger,
		fields:  fields,
		uploads: uploads,
		status:  200,
	}
}

// MatchesRequest reports whether the request carries the configured matching data.
func (d *Driver) MatchesRequest() bool {
	return Matches(d.fields, d.cfg.MatchingData)
}

// Status is the HTTP status the response will carry.
func (d *Driver) Status() int { return d.status }

// Error describes why Status is not 200.
func (d *Driver) Error() string { return d.errMsg }

// Channel returns the delivery channel, or "" while none has been derived.
func (d *Driver) Channel() string { return d.channel }

// Delivery returns how many replies were published live and how many were
// written to the offline queue during this cycle.
func (d *Driver) Delivery() (pushed, queued int) { return d.pushed, d.queued }

// deriveChannel fixes the delivery channel from the first recipient seen.
func (d *Driver) deriveChannel(recipient string) {
	if d.channel == "" && recipient != "" {
		d.channel = DeriveChannel(recipient)
	}
}
