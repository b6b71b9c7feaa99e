package types

import (
	"encoding/json"
	"fmt"
)

// Client-to-server event types. The wire protocol is a closed set of
// tagged variants; anything outside this set is rejected at the boundary
// before it reaches the router.
const (
	EventJoin  = "join"
	EventLeave = "leave"
	EventSend  = "send"
)

// Server-to-client event types.
const (
	EventJoinAck = "join_ack"
	EventMessage = "message"
	EventError   = "error"
)

// Error kinds carried on error events. AuthError is fatal to the
// connection attempt; the remaining kinds are fatal only to the action
// that produced them and are always targeted at the originating session.
// DeliveryError means the backing store failed and a retry may succeed;
// NotFoundError means the resource is gone and a retry will not help.
const (
	ErrorKindAuth          = "AuthError"
	ErrorKindAuthorization = "AuthorizationError"
	ErrorKindNotSubscribed = "NotSubscribedError"
	ErrorKindDelivery      = "DeliveryError"
	ErrorKindInvalidEvent  = "InvalidEventError"
	ErrorKindNotFound      = "NotFoundError"
)

// JoinPayload asks to start or resume a conversation with another user.
type JoinPayload struct {
	CounterpartyID string `json:"counterpartyId"`
}

// LeavePayload drops a live subscription. Leaving is always allowed.
type LeavePayload struct {
	ConversationKey string `json:"conversationKey"`
}

// SendPayload submits a message into a joined conversation.
type SendPayload struct {
	ConversationKey string `json:"conversationKey"`
	Text            string `json:"text"`
}

// ClientEvent is the decoded form of one inbound frame. Exactly one of
// the payload fields is non-nil, matching Type.
type ClientEvent struct {
	Type  string
	Join  *JoinPayload
	Leave *LeavePayload
	Send  *SendPayload
}

type eventEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeClientEvent parses and validates one inbound frame. Unknown
// event types and malformed or incomplete payloads fail here so the
// router only ever sees well-formed events.
func DecodeClientEvent(data []byte) (*ClientEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case EventJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if !IsValidUserID(p.CounterpartyID) {
			return nil, ErrInvalidCounterparty
		}
		return &ClientEvent{Type: EventJoin, Join: &p}, nil

	case EventLeave:
		var p LeavePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if p.ConversationKey == "" {
			return nil, ErrMissingConversationKey
		}
		return &ClientEvent{Type: EventLeave, Leave: &p}, nil

	case EventSend:
		var p SendPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if p.ConversationKey == "" {
			return nil, ErrMissingConversationKey
		}
		if err := ValidateMessageText(p.Text); err != nil {
			return nil, err
		}
		return &ClientEvent{Type: EventSend, Send: &p}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}

// JoinAckEvent acknowledges a successful join. History is a bounded page
// of recent messages, most recent first.
type JoinAckEvent struct {
	Type            string     `json:"type"`
	ConversationKey string     `json:"conversationKey"`
	History         []*Message `json:"history"`
}

// NewJoinAckEvent builds a join_ack for the given conversation.
func NewJoinAckEvent(conversationKey string, history []*Message) *JoinAckEvent {
	if history == nil {
		history = []*Message{}
	}
	return &JoinAckEvent{Type: EventJoinAck, ConversationKey: conversationKey, History: history}
}

// MessageEvent carries one persisted message to a subscriber.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

// NewMessageEvent wraps a persisted message for fan-out.
func NewMessageEvent(msg *Message) *MessageEvent {
	return &MessageEvent{Type: EventMessage, Message: msg}
}

// ErrorEvent reports a failed action to the originating session only.
type ErrorEvent struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// NewErrorEvent builds an error event of the given kind.
func NewErrorEvent(kind, detail string) *ErrorEvent {
	return &ErrorEvent{Type: EventError, Kind: kind, Detail: detail}
}
