package domain

import "errors"

var (
	// ErrUnsupportedMessageType marks an outbound value the web driver cannot render.
	ErrUnsupportedMessageType = errors.New("unsupported message type")
	// ErrUnsupportedAttachmentType marks an upload whose declared type is not handled.
	ErrUnsupportedAttachmentType = errors.New("unsupported attachment type")
	// ErrDeliveryFailed marks a failed real-time push. It is always recovered by queueing.
	ErrDeliveryFailed = errors.New("real-time delivery failed")
	// ErrNoRecipient marks a background reply with nobody to address it to.
	// There is no channel to push to and no queue key to fall back on.
	ErrNoRecipient = errors.New("reply has no recipient")
	// ErrNoSubscriber is returned by a liveness probe when nobody listens on a channel.
	ErrNoSubscriber = errors.New("no active subscriber")
)
