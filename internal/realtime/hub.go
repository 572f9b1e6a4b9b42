// Package realtime implements the pub/sub service replies are pushed to,
// plus the websocket gateway browsers subscribe through.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatbridge/internal/domain"
)

const defaultPublishTimeout = 2 * time.Second

// Hub is an in-process pub/sub service. A channel exists while it has
// at least one subscriber.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[int]chan domain.RealtimeEvent
	nextID     int
	bufferSize int
	timeout    time.Duration
	closed     bool
	logger     *slog.Logger
}

// NewHub creates a hub whose subscriber channels buffer bufferSize events.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:       make(map[string]map[int]chan domain.RealtimeEvent),
		bufferSize: bufferSize,
		timeout:    defaultPublishTimeout,
		logger:     logger,
	}
}

func (h *Hub) ChannelExists(ctx context.Context, channel string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel]) > 0, nil
}

// SetPublishTimeout sets how long Publish waits on a full subscriber.
func (h *Hub) SetPublishTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

// Publish delivers to every subscriber. It waits up to the publish timeout
// on each full subscriber; if any of them still has no room the event is
// dropped for it and Publish fails so the caller can fall back.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return domain.ErrDeliveryFailed
	}
	subs := h.subs[channel]
	if len(subs) == 0 {
		return domain.ErrNoSubscriber
	}

	ev := domain.RealtimeEvent{Event: event, Data: payload}
	dropped := 0
	for id, ch := range subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("subscriber full, waiting...", "channel", channel, "subscriber", id)
			timer := time.NewTimer(h.timeout)
			select {
			case ch <- ev:
			case <-timer.C:
				dropped++
				h.logger.Error("event dropped: subscriber full", "channel", channel, "subscriber", id)
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			timer.Stop()
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d of %d subscribers full on %s", domain.ErrDeliveryFailed, dropped, len(subs), channel)
	}
	return nil
}

// Subscribe registers a listener on channel. The returned cancel func
// unregisters it and closes the event stream.
func (h *Hub) Subscribe(ctx context.Context, channel string) (<-chan domain.RealtimeEvent, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, domain.ErrDeliveryFailed
	}
	ch := make(chan domain.RealtimeEvent, h.bufferSize)
	id := h.nextID
	h.nextID++
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[int]chan domain.RealtimeEvent)
	}
	h.subs[channel][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[channel]; ok {
				if _, ok := subs[id]; ok {
					delete(subs, id)
					close(ch)
				}
				if len(subs) == 0 {
					delete(h.subs, channel)
				}
			}
		})
	}
	return ch, cancel, nil
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for channel, subs := range h.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subs, channel)
	}
}
