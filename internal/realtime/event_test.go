package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeInboundMatchesEventName(t *testing.T) {
	env := Envelope{
		Event: EventMessageSend,
		Data:  json.RawMessage(`{"conversationId": 10, "messageId": 3, "message": "hi", "recipientIds": [2, 5]}`),
	}

	payload, err := DecodeInbound(env)
	require.NoError(t, err)
	require.Equal(t, SendMessage{
		ConversationID: 10,
		MessageID:      3,
		Message:        "hi",
		RecipientIDs:   []int64{2, 5},
	}, payload)
}

func TestDecodeInboundUnknownEvent(t *testing.T) {
	_, err := DecodeInbound(Envelope{Event: "not:real", Data: json.RawMessage(`{}`)})
	require.Error(t, err)
}

func TestDecodeInboundBadPayload(t *testing.T) {
	_, err := DecodeInbound(Envelope{Event: EventTypingStart, Data: json.RawMessage(`[1,2]`)})
	require.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	raw, err := json.Marshal(Event{Event: EventUserOnline, Data: UserPresence{UserID: 7}})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, EventUserOnline, env.Event)
	require.JSONEq(t, `{"userId": 7}`, string(env.Data))
}
