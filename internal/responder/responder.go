// Package responder answers incoming messages from a configured rule table.
package responder

import (
	"context"
	"log/slog"
	"strings"

	"chatbridge/internal/domain"
)

// Config configures the rule table.
type Config struct {
	// Replies maps a lowercased trigger text to the reply text.
	Replies  map[string]string
	Fallback string
	Logger   *slog.Logger
}

// Rules replies to exact trigger matches and to uploads.
type Rules struct {
	replies  map[string]string
	fallback string
	logger   *slog.Logger
}

func New(cfg Config) *Rules {
	replies := make(map[string]string, len(cfg.Replies))
	for k, v := range cfg.Replies {
		replies[normalize(k)] = v
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rules{replies: replies, fallback: cfg.Fallback, logger: logger}
}

// Respond returns the outbound values for one answer. Button clicks match on
// the button value, typed text on the text itself.
func (r *Rules) Respond(ctx context.Context, answer domain.Answer, user domain.User) []any {
	msg := answer.Message
	if msg != nil {
		if atts := msg.Attachments(); len(atts) > 0 {
			kind := atts[0].Kind
			r.logger.Debug("upload received", "user", user.ID, "kind", kind, "count", len(atts))
			return []any{domain.OutgoingMessage{Text: "Thanks, your " + string(kind) + " was received."}}
		}
	}

	trigger := answer.Text
	if answer.Interactive {
		trigger = answer.Value
	}
	if reply, ok := r.replies[normalize(trigger)]; ok {
		return []any{domain.OutgoingMessage{Text: reply}}
	}
	if r.fallback != "" {
		return []any{domain.OutgoingMessage{Text: r.fallback}}
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
