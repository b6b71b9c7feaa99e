package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientEvent_Join(t *testing.T) {
	event, err := DecodeClientEvent([]byte(`{"type":"join","payload":{"counterpartyId":"mentor-1"}}`))
	require.NoError(t, err)
	require.Equal(t, EventJoin, event.Type)
	require.NotNil(t, event.Join)
	assert.Equal(t, "mentor-1", event.Join.CounterpartyID)
	assert.Nil(t, event.Leave)
	assert.Nil(t, event.Send)
}

func TestDecodeClientEvent_Leave(t *testing.T) {
	event, err := DecodeClientEvent([]byte(`{"type":"leave","payload":{"conversationKey":"dm:um:m1:u1"}}`))
	require.NoError(t, err)
	require.Equal(t, EventLeave, event.Type)
	require.NotNil(t, event.Leave)
	assert.Equal(t, "dm:um:m1:u1", event.Leave.ConversationKey)
}

func TestDecodeClientEvent_Send(t *testing.T) {
	event, err := DecodeClientEvent([]byte(`{"type":"send","payload":{"conversationKey":"dm:um:m1:u1","text":"Hello"}}`))
	require.NoError(t, err)
	require.Equal(t, EventSend, event.Type)
	require.NotNil(t, event.Send)
	assert.Equal(t, "Hello", event.Send.Text)
}

func TestDecodeClientEvent_Rejections(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not JSON", `{{{`, ErrMalformedEvent},
		{"unknown type", `{"type":"presence","payload":{}}`, ErrUnknownEventType},
		{"join missing counterparty", `{"type":"join","payload":{}}`, ErrInvalidCounterparty},
		{"join bad counterparty", `{"type":"join","payload":{"counterpartyId":"a:b"}}`, ErrInvalidCounterparty},
		{"leave missing key", `{"type":"leave","payload":{}}`, ErrMissingConversationKey},
		{"send missing key", `{"type":"send","payload":{"text":"hi"}}`, ErrMissingConversationKey},
		{"send empty text", `{"type":"send","payload":{"conversationKey":"dm:um:a:b","text":""}}`, ErrEmptyMessage},
		{"send oversized text", `{"type":"send","payload":{"conversationKey":"dm:um:a:b","text":"` + strings.Repeat("x", MaxMessageLength+1) + `"}}`, ErrMessageTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientEvent([]byte(tc.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidateMessageText_Boundary(t *testing.T) {
	assert.NoError(t, ValidateMessageText(strings.Repeat("x", MaxMessageLength)))
	assert.ErrorIs(t, ValidateMessageText(strings.Repeat("x", MaxMessageLength+1)), ErrMessageTooLarge)
	assert.ErrorIs(t, ValidateMessageText(""), ErrEmptyMessage)
	assert.ErrorIs(t, ValidateMessageText("  \n\t "), ErrEmptyMessage)
}

func TestIsValidUserID(t *testing.T) {
	testCases := []struct {
		id    string
		valid bool
	}{
		{"u1", true},
		{"mentor_one", true},
		{"A-B-c-9", true},
		{"", false},
		{"user:1", false},
		{"has space", false},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
	}

	for _, tc := range testCases {
		t.Run(tc.id, func(t *testing.T) {
			assert.Equal(t, tc.valid, IsValidUserID(tc.id))
		})
	}
}

func TestNewJoinAckEvent_NeverNilHistory(t *testing.T) {
	event := NewJoinAckEvent("dm:um:m1:u1", nil)
	require.NotNil(t, event.History)
	assert.Empty(t, event.History)
	assert.Equal(t, EventJoinAck, event.Type)
}
