package clausedesk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []Envelope
	err  error
}

func (s *recordingSender) Send(_ context.Context, env Envelope) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func TestOutboundSendTyping(t *testing.T) {
	s := &recordingSender{}
	o := NewOutbound(s)

	require.NoError(t, o.SendTyping(context.Background(), "room-1", true))
	require.Len(t, s.sent, 1)
	assert.Equal(t, EventTyping, s.sent[0].Type)
	assert.JSONEq(t, `{"roomId":"room-1","isTyping":true}`, string(s.sent[0].Data))
}

func TestOutboundSendReadReceipt(t *testing.T) {
	s := &recordingSender{}
	o := NewOutbound(s)

	require.NoError(t, o.SendReadReceipt(context.Background(), "room-1", "msg-3"))
	require.Len(t, s.sent, 1)
	assert.Equal(t, EventReadReceipt, s.sent[0].Type)
	assert.JSONEq(t, `{"roomId":"room-1","messageId":"msg-3"}`, string(s.sent[0].Data))
}

func TestOutboundSendChatMessage(t *testing.T) {
	s := &recordingSender{}
	o := NewOutbound(s)
	o.newID = func() string { return "client-1" }

	id, err := o.SendChatMessage(context.Background(), "room-1", "Please review clause 4")
	require.NoError(t, err)
	assert.Equal(t, "client-1", id)

	var p ChatMessagePayload
	require.NoError(t, s.sent[0].Decode(&p))
	assert.Equal(t, ChatMessagePayload{ClientID: "client-1", RoomID: "room-1", Content: "Please review clause 4"}, p)
}

func TestOutboundChatMessageIDsAreUnique(t *testing.T) {
	o := NewOutbound(&recordingSender{})
	a, err := o.SendChatMessage(context.Background(), "r", "one")
	require.NoError(t, err)
	b, err := o.SendChatMessage(context.Background(), "r", "two")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOutboundRejectsEmptyArguments(t *testing.T) {
	s := &recordingSender{}
	o := NewOutbound(s)
	ctx := context.Background()

	assert.ErrorIs(t, o.SendTyping(ctx, "", true), ErrInvalidArgument)
	assert.ErrorIs(t, o.SendReadReceipt(ctx, "room", ""), ErrInvalidArgument)
	assert.ErrorIs(t, o.SendReadReceipt(ctx, " ", "msg"), ErrInvalidArgument)
	_, err := o.SendChatMessage(ctx, "room", "   ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = o.SendChatMessage(ctx, "", "hi")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, s.sent)
}

func TestOutboundReportsNotConnected(t *testing.T) {
	o := NewOutbound(&recordingSender{err: ErrNotConnected})

	assert.ErrorIs(t, o.SendTyping(context.Background(), "room", false), ErrNotConnected)
	id, err := o.SendChatMessage(context.Background(), "room", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, id)
}
