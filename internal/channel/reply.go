package channel

import (
	"fmt"

	"chatbridge/internal/domain"
	"chatbridge/internal/metrics"
)

// additionalParametersKey is the reply key carrying an item's pass-through parameters.
const additionalParametersKey = "additionalParameters"

// recipientOf returns who replies to msg are delivered to.
func recipientOf(msg *domain.IncomingMessage) string {
	if msg == nil {
		return ""
	}
	if msg.Recipient == "" {
		return msg.Sender
	}
	return msg.Recipient
}

// BuildServicePayload wraps an outbound value as a queued item addressed to
// the visitor behind matching. Values the web client cannot render mark the
// response as failed but are still queued.
func (d *Driver) BuildServicePayload(v any, matching *domain.IncomingMessage, params map[string]any) domain.OutgoingItem {
	if params == nil {
		params = map[string]any{}
	}
	item := domain.NewOutgoingItem(v, recipientOf(matching), params)
	if item.Kind == domain.ItemUnsupported {
		d.markUnsupported(item)
	}
	return item
}

func (d *Driver) markUnsupported(item domain.OutgoingItem) {
	d.status = 500
	d.errMsg = domain.ErrUnsupportedMessageType.Error()
	metrics.UnsupportedMessages.Inc()
	d.logger.Error("unsupported message type", "type", typeName(item.Value), "recipient", item.Recipient)
}

// BuildReplies converts queued items into wire replies, one per item. The
// first item derives the delivery channel when none is set yet.
func (d *Driver) BuildReplies(items []domain.OutgoingItem) []domain.Reply {
	replies := make([]domain.Reply, 0, len(items))
	for _, item := range items {
		d.deriveChannel(item.Recipient)
		replies = append(replies, d.buildReply(item))
	}
	return replies
}

func (d *Driver) buildReply(item domain.OutgoingItem) domain.Reply {
	var reply domain.Reply
	switch item.Kind {
	case domain.ItemRaw:
		reply = make(domain.Reply, len(item.Raw)+1)
		for k, v := range item.Raw {
			reply[k] = v
		}
	case domain.ItemWebAccess:
		reply = item.Web.ToWebDriver()
	case domain.ItemEcho:
		reply = echoReply(item.Echo)
	case domain.ItemMessage:
		var attachment any
		if item.Message.Attachment != nil {
			attachment = item.Message.Attachment.WireForm()
		}
		reply = domain.Reply{
			"type":       "text",
			"text":       item.Message.Text,
			"attachment": attachment,
		}
	default:
		if d.status != 500 {
			d.markUnsupported(item)
		}
		reply = domain.Reply{}
	}
	if reply == nil {
		reply = domain.Reply{}
	}
	reply[additionalParametersKey] = item.AdditionalParameters
	return reply
}

// echoReply mirrors a visitor message. A single attachment is echoed as an
// attachment; none or several fall back to the message text.
func echoReply(msg *domain.IncomingMessage) domain.Reply {
	attachments := msg.Attachments()
	if len(attachments) == 1 {
		return domain.AttachmentVisitorReply{Attachment: &attachments[0]}.ToWebDriver()
	}
	return domain.Reply{
		"type": "text",
		"text": msg.Text,
		"from": "visitor",
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
