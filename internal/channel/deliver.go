package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/metrics"
	"chatbridge/internal/queue"
)

// Response is the JSON body written at the end of a request.
type Response struct {
	Status   int            `json:"status"`
	Messages []domain.Reply `json:"messages"`
}

// Reply queues v as an answer to matching.
func (d *Driver) Reply(ctx context.Context, v any, matching *domain.IncomingMessage, params map[string]any) error {
	return d.SendPayload(ctx, d.BuildServicePayload(v, matching, params))
}

// SendPayload buffers item for the HTTP response while the request matches
// the driver. Otherwise the reply is pushed to the delivery channel right
// away, falling back to the offline queue. Queue write failures and replies
// without a recipient (ErrNoRecipient) are returned.
func (d *Driver) SendPayload(ctx context.Context, item domain.OutgoingItem) error {
	if d.MatchesRequest() {
		d.replies = append(d.replies, item)
		metrics.Replies.With(metrics.OutcomeBuffered).Inc()
		return nil
	}
	replies := d.BuildReplies([]domain.OutgoingItem{item})
	return d.deliver(ctx, replies)
}

// MessagesHandled ends the cycle. It builds every buffered reply and resets
// the buffer. When a delivery channel is known the replies go out through it
// and the returned body carries none of them.
func (d *Driver) MessagesHandled(ctx context.Context) (Response, error) {
	messages := d.BuildReplies(d.replies)
	d.replies = nil

	if d.channel != "" {
		if err := d.deliver(ctx, messages); err != nil {
			return Response{Status: d.status, Messages: []domain.Reply{}}, err
		}
		messages = []domain.Reply{}
	}
	return Response{Status: d.status, Messages: messages}, nil
}

// deliver pushes replies in order and queues whatever could not be published.
func (d *Driver) deliver(ctx context.Context, replies []domain.Reply) error {
	if len(replies) == 0 {
		return nil
	}
	if d.channel == "" {
		d.logger.Warn("background reply without recipient", "count", len(replies))
		return fmt.Errorf("deliver %d replies: %w", len(replies), domain.ErrNoRecipient)
	}

	sent, err := d.push(ctx, replies)
	d.pushed += sent
	metrics.Replies.With(metrics.OutcomePushed).Add(int64(sent))
	if err == nil {
		return nil
	}

	d.logger.Warn("realtime push failed, queueing replies",
		"channel", d.channel, "pending", len(replies)-sent, "err", err)
	return d.enqueue(ctx, replies[sent:])
}

// push probes the channel once, then publishes each reply. It returns how
// many replies were published before the first failure.
func (d *Driver) push(ctx context.Context, replies []domain.Reply) (int, error) {
	if d.cfg.Realtime == nil {
		return 0, fmt.Errorf("%w: no realtime service", domain.ErrDeliveryFailed)
	}

	start := time.Now()
	defer func() { metrics.PushLatency.Observe(time.Since(start).Seconds()) }()

	live, err := d.cfg.Realtime.ChannelExists(ctx, d.channel)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	if !live {
		return 0, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, domain.ErrNoSubscriber)
	}
	for i, reply := range replies {
		if err := d.cfg.Realtime.Publish(ctx, d.channel, d.cfg.Event, reply); err != nil {
			return i, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
		}
	}
	return len(replies), nil
}

// enqueue appends replies to the channel's offline queue and renews its
// retention window. Stores with an atomic append are preferred.
func (d *Driver) enqueue(ctx context.Context, replies []domain.Reply) error {
	if d.cfg.Queue == nil {
		return errors.New("offline queue not configured")
	}
	key := queue.Key(d.channel)

	if app, ok := d.cfg.Queue.(domain.QueueAppender); ok {
		if err := app.Append(ctx, key, replies, d.cfg.QueueTTL); err != nil {
			return fmt.Errorf("append offline queue %s: %w", key, err)
		}
	} else {
		existing, err := d.cfg.Queue.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read offline queue %s: %w", key, err)
		}
		if err := d.cfg.Queue.Put(ctx, key, append(existing, replies...), d.cfg.QueueTTL); err != nil {
			return fmt.Errorf("write offline queue %s: %w", key, err)
		}
	}

	d.queued += len(replies)
	metrics.Replies.With(metrics.OutcomeQueued).Add(int64(len(replies)))
	return nil
}
