package channel

import (
	"context"
	"fmt"

	"chatbridge/internal/domain"
	"chatbridge/internal/metrics"
)

// Messages returns the request's incoming message. The first call parses the
// fields, stores uploads and echoes the message back to the visitor; later
// calls return the cached result.
func (d *Driver) Messages(ctx context.Context) ([]*domain.IncomingMessage, error) {
	if d.messages != nil {
		return d.messages, nil
	}

	userID := d.fields["userId"]
	sender, ok := d.fields["sender"]
	if !ok {
		sender = userID
	}

	payload := make(map[string]string, len(d.fields))
	for k, v := range d.fields {
		payload[k] = v
	}
	msg := &domain.IncomingMessage{
		Text:      d.fields["message"],
		Sender:    sender,
		Recipient: userID,
		Payload:   payload,
	}
	if err := d.addAttachments(ctx, msg); err != nil {
		return nil, err
	}

	d.messages = []*domain.IncomingMessage{msg}
	metrics.InboundMessages.Inc()

	if err := d.SendPayload(ctx, domain.NewOutgoingItem(msg, sender, nil)); err != nil {
		return nil, fmt.Errorf("echo message: %w", err)
	}
	return d.messages, nil
}

// User returns the visitor behind msg, with the posted location as user info.
func (d *Driver) User(msg *domain.IncomingMessage) domain.User {
	info := map[string]any{"location": nil}
	if loc, ok := d.fields["location"]; ok {
		info["location"] = loc
	}
	return domain.User{ID: msg.Sender, Info: info}
}

// ConversationAnswer interprets msg as the answer to a pending question.
// The value defaults to the text; "false" and "0" are non-interactive.
func (d *Driver) ConversationAnswer(msg *domain.IncomingMessage) domain.Answer {
	value, ok := d.fields["value"]
	if !ok {
		value = msg.Text
	}
	interactive := false
	if v, ok := d.fields["interactive"]; ok {
		interactive = v != "" && v != "false" && v != "0"
	}
	return domain.Answer{
		Text:        msg.Text,
		Value:       value,
		Interactive: interactive,
		Message:     msg,
	}
}

// MatchingEvent returns the client event carried by the request, if any.
func (d *Driver) MatchingEvent() (*domain.Event, bool) {
	data, ok := d.fields["eventData"]
	if !ok {
		return nil, false
	}
	return &domain.Event{Name: d.fields["eventName"], Data: data}, true
}

// Types queues a one-second typing indicator for the visitor behind msg.
func (d *Driver) Types(ctx context.Context, msg *domain.IncomingMessage) error {
	return d.TypesAndWaits(ctx, msg, 1)
}

// TypesAndWaits queues a typing indicator the client shows for seconds.
func (d *Driver) TypesAndWaits(ctx context.Context, msg *domain.IncomingMessage, seconds float64) error {
	item := domain.NewOutgoingItem(domain.TypingIndicator{Timeout: seconds}, recipientOf(msg), map[string]any{})
	return d.SendPayload(ctx, item)
}
