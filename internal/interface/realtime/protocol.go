// Package realtime implements the WebSocket side of the gateway: the
// connection registry, the event dispatcher and the socket handler.
package realtime

import (
	"encoding/json"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE PROTOCOL
// ══════════════════════════════════════════════════════════════════════════════

// Inbound actions.
const (
	ActionSubscribe           = "subscribe"
	ActionUnsubscribe         = "unsubscribe"
	ActionGetNotifications    = "get_notifications"
	ActionMarkRead            = "mark_read"
	ActionDeleteNotifications = "delete_notifications"
	ActionPing                = "ping"
)

// Outbound events that are not tied to a notification variant.
const (
	EventError        = "error"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPong         = "pong"
)

// Envelope is the single outbound frame shape.
type Envelope struct {
	Event     string      `json:"event"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Encode marshals the envelope once so it can be pushed to many sockets.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// InboundFrame is a client request. Fields are action-specific.
type InboundFrame struct {
	Action  string   `json:"action"`
	Channel string   `json:"channel,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
	Status  string   `json:"status,omitempty"`
	IDs     []string `json:"ids,omitempty"`
}

// ErrorPayload is the data of an "error" event.
type ErrorPayload struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
}

// ChannelPayload acknowledges subscribe/unsubscribe.
type ChannelPayload struct {
	Channel string `json:"channel"`
}

// UnreadCountPayload is the data of an "unread_count" event.
type UnreadCountPayload struct {
	Count int `json:"count"`
}

// BulkResultPayload acknowledges mark_read and delete_notifications.
type BulkResultPayload struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}
