package clausedesk

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a failed REST call.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return e.Code + ": " + e.Message
}

var (
	// ErrNotConnected is returned by Send and the outbound helpers when the
	// connection is not authenticated. Nothing is queued.
	ErrNotConnected = errors.New("clausedesk: not connected")

	// ErrInvalidArgument is returned for empty room, message or content values.
	ErrInvalidArgument = errors.New("clausedesk: invalid argument")

	// ErrUnknownEventType is returned by Decode for types outside the wire set.
	ErrUnknownEventType = errors.New("clausedesk: unknown event type")

	// ErrMissingCredential is returned by Connect without identity or credential.
	ErrMissingCredential = errors.New("clausedesk: missing identity or credential")

	// ErrSessionClosed is returned by Session.Start after Close.
	ErrSessionClosed = errors.New("clausedesk: session closed")
)

// ============================================================================
// Notification Types
// ============================================================================

// NotificationKind is the severity of a notification.
type NotificationKind string

const (
	KindInfo    NotificationKind = "info"
	KindSuccess NotificationKind = "success"
	KindWarning NotificationKind = "warning"
	KindError   NotificationKind = "error"
)

// Notification is a server-assigned alert shown in the bell popover.
type Notification struct {
	ID         int64            `json:"id"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Kind       NotificationKind `json:"type"`
	CreatedAt  time.Time        `json:"createdAt"`
	Read       bool             `json:"read"`
	ActionLink string           `json:"actionLink,omitempty"`

	// Silent push events are stored but not toasted.
	Silent bool `json:"silent,omitempty"`
}

// NotificationList is the baseline returned by GET /api/notifications.
type NotificationList struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}

// ============================================================================
// Event Payload Types
// ============================================================================

// ConnStatus is the value carried by connection_status events.
type ConnStatus string

const (
	StatusConnected    ConnStatus = "connected"
	StatusDisconnected ConnStatus = "disconnected"
	StatusReconnecting ConnStatus = "reconnecting"
	StatusFailed       ConnStatus = "failed"
)

// ConnectionStatusPayload is emitted locally by the Manager.
type ConnectionStatusPayload struct {
	Status  ConnStatus `json:"status"`
	Attempt int        `json:"attempt,omitempty"`
	DelayMs int64      `json:"delayMs,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// AuthPayload is sent as the first frame on every new socket.
type AuthPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// AuthResultPayload is the server's answer to AuthPayload.
type AuthResultPayload struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ChatMessagePayload is a chat message in a room.
type ChatMessagePayload struct {
	ID        string `json:"id,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// TypingPayload reports that a user started or stopped typing.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// ReadReceiptPayload reports that a user has read up to a message.
type ReadReceiptPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId,omitempty"`
}

// BroadcastPayload is a system-wide announcement.
type BroadcastPayload struct {
	Title   string           `json:"title,omitempty"`
	Message string           `json:"message"`
	Kind    NotificationKind `json:"type,omitempty"`
}
