// Package queue holds replies that could not be pushed live, keyed by
// delivery channel, until a client fetches them.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"chatbridge/internal/domain"
)

// DefaultRetention is how long undelivered replies are kept.
const DefaultRetention = 90 * 24 * time.Hour

// Key returns the store key for a delivery channel.
func Key(channel string) string {
	return "unread-" + channel
}

func encodeReplies(replies []domain.Reply) ([]byte, error) {
	if replies == nil {
		replies = []domain.Reply{}
	}
	data, err := json.Marshal(replies)
	if err != nil {
		return nil, fmt.Errorf("marshal replies: %w", err)
	}
	return data, nil
}

func decodeReplies(data []byte) ([]domain.Reply, error) {
	var replies []domain.Reply
	if err := json.Unmarshal(data, &replies); err != nil {
		return nil, fmt.Errorf("unmarshal replies: %w", err)
	}
	return replies, nil
}
