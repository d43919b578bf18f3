// Package transport defines the outbound notification boundary. tokbot
// only pushes (milestone alerts, mirrored warnings); it has no inbound
// command surface, so there is no update/polling contract here.
package transport

import "context"

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is one queued outbound message.
type Notification struct {
	Priority int // 0 low .. 10 high
	Text     string
	Options  *SendOptions
}

// Sender delivers text to the configured destination chat.
type Sender interface {
	SendText(ctx context.Context, text string, opt *SendOptions) error
}
