package interfaces

import "context"

// EventRouter consumes the validated client events of one live session.
// The transport layer depends on this contract rather than the routing
// implementation, which also allows handler tests to run against a mock
// router.
type EventRouter interface {
	// HandleJoin authorizes and subscribes the session to the
	// conversation with counterpartyID, replying with an ack or a
	// targeted error.
	HandleJoin(ctx context.Context, conn Connection, counterpartyID string)

	// HandleLeave drops the session's subscription. Idempotent.
	HandleLeave(conn Connection, conversationKey string)

	// HandleSend persists and fans out one message from the session.
	HandleSend(ctx context.Context, conn Connection, conversationKey, text string)

	// HandleDisconnect tears down all routing state for a closed
	// session. Idempotent.
	HandleDisconnect(conn Connection)
}
