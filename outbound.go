package clausedesk

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Sender writes an envelope on an authenticated connection. *Manager
// implements it.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// Outbound builds client-originated envelopes and hands them to a Sender.
// Sends are fire-and-forget: nothing is queued or retried, and
// ErrNotConnected is returned while the connection is not authenticated.
type Outbound struct {
	sender Sender
	newID  func() string
}

// NewOutbound returns an Outbound writing through s.
func NewOutbound(s Sender) *Outbound {
	return &Outbound{sender: s, newID: uuid.NewString}
}

// SendTyping reports that the local user started or stopped typing in roomID.
func (o *Outbound) SendTyping(ctx context.Context, roomID string, isTyping bool) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: empty room id", ErrInvalidArgument)
	}
	return o.send(ctx, EventTyping, TypingPayload{RoomID: roomID, IsTyping: isTyping})
}

// SendReadReceipt marks messageID in roomID as read by the local user.
func (o *Outbound) SendReadReceipt(ctx context.Context, roomID, messageID string) error {
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("%w: empty room or message id", ErrInvalidArgument)
	}
	return o.send(ctx, EventReadReceipt, ReadReceiptPayload{RoomID: roomID, MessageID: messageID})
}

// SendChatMessage posts content to roomID and returns the client ID the
// server echoes back on the resulting chat_message.
func (o *Outbound) SendChatMessage(ctx context.Context, roomID, content string) (string, error) {
	if strings.TrimSpace(roomID) == "" {
		return "", fmt.Errorf("%w: empty room id", ErrInvalidArgument)
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty message content", ErrInvalidArgument)
	}
	clientID := o.newID()
	err := o.send(ctx, EventChatMessage, ChatMessagePayload{
		ClientID: clientID,
		RoomID:   roomID,
		Content:  content,
	})
	if err != nil {
		return "", err
	}
	return clientID, nil
}

func (o *Outbound) send(ctx context.Context, t EventType, payload any) error {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	return o.sender.Send(ctx, env)
}
