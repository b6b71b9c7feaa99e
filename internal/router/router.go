package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mentorchat/internal/membership"
	"mentorchat/internal/websocket"
	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

// lockStripes is the number of conversation lock buckets. Sends to the
// same conversation serialize on one stripe; sends to different
// conversations almost always proceed in parallel.
const lockStripes = 64

// Router validates join/leave/send events, persists messages through
// the store, and fans persisted messages out to live subscribers.
//
// Delivery contract: write-then-broadcast. A message is fanned out only
// after the store has durably recorded it, and fan-out reaches every
// live session subscribed to the conversation, the originating session
// included, so clients derive all state from the stream.
type Router struct {
	registry     *websocket.Registry
	authority    *membership.Authority
	store        interfaces.MessageStore
	historyLimit int
	log          zerolog.Logger

	// Per-conversation stripes hold the append+fan-out critical
	// section, so every subscriber observes messages in store sequence
	// order.
	stripes [lockStripes]sync.Mutex
}

var _ interfaces.EventRouter = (*Router)(nil)

// NewRouter creates a router. historyLimit bounds the page of recent
// messages returned in a join acknowledgment.
func NewRouter(registry *websocket.Registry, authority *membership.Authority, store interfaces.MessageStore, historyLimit int, log zerolog.Logger) *Router {
	return &Router{
		registry:     registry,
		authority:    authority,
		store:        store,
		historyLimit: historyLimit,
		log:          log,
	}
}

func (r *Router) stripe(conversationKey string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationKey))
	return &r.stripes[h.Sum32()%lockStripes]
}

// Open resolves and authorizes the conversation between user and
// counterparty, creating the durable record on first contact. Shared by
// the WebSocket join path and the REST create-or-get endpoint.
func (r *Router) Open(ctx context.Context, user types.Identity, counterpartyID string) (*types.Conversation, error) {
	conv, err := r.authority.Authorize(ctx, user, counterpartyID)
	if err != nil {
		return nil, err
	}
	if err := r.store.EnsureConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("ensuring conversation %s: %w", conv.Key, err)
	}
	return conv, nil
}

// HandleJoin processes a join event from a live session. On success the
// session is subscribed and receives a join_ack carrying the
// conversation key and a recent history page; on failure the session
// receives a targeted error event and no state changes. There is no
// partially-joined state observable to the client.
func (r *Router) HandleJoin(ctx context.Context, conn interfaces.Connection, counterpartyID string) {
	user := conn.Identity()

	conv, err := r.Open(ctx, user, counterpartyID)
	if err != nil {
		r.log.Debug().Err(err).Str("user", user.ID).Str("counterparty", counterpartyID).Msg("join rejected")
		r.writeError(conn, err)
		return
	}

	if err := r.registry.Subscribe(conn.ID(), conv.Key); err != nil {
		r.writeError(conn, err)
		return
	}

	history, err := r.store.Page(ctx, conv.Key, 0, r.historyLimit)
	if err != nil {
		// All-or-nothing join: roll back the subscription so a failed
		// history fetch leaves no state behind.
		r.registry.Unsubscribe(conn.ID(), conv.Key)
		r.log.Error().Err(err).Str("conversation", conv.Key).Msg("history fetch failed")
		r.writeError(conn, err)
		return
	}

	if err := conn.WriteEvent(types.NewJoinAckEvent(conv.Key, history)); err != nil {
		r.log.Debug().Err(err).Str("session", conn.ID()).Msg("join ack not delivered")
	}
}

// HandleLeave processes a leave event. Unconditional and idempotent;
// leaving a conversation the session never joined is a no-op.
func (r *Router) HandleLeave(conn interfaces.Connection, conversationKey string) {
	r.registry.Unsubscribe(conn.ID(), conversationKey)
}

// HandleSend processes a send event from a live session. The session
// must have joined the conversation first; this gate is what stops a
// forged key from reaching conversations the session never validated
// membership for.
func (r *Router) HandleSend(ctx context.Context, conn interfaces.Connection, conversationKey, text string) {
	user := conn.Identity()

	if !r.registry.IsSubscribed(conn.ID(), conversationKey) {
		r.writeErrorKind(conn, types.ErrorKindNotSubscribed, "join the conversation before sending")
		return
	}

	if _, err := r.Send(ctx, user, conversationKey, text); err != nil {
		r.log.Debug().Err(err).Str("user", user.ID).Str("conversation", conversationKey).Msg("send rejected")
		r.writeError(conn, err)
	}
}

// Send validates, persists, and fans out one message. Also the entry
// point for the REST fallback, which carries no transport session and
// therefore no subscription; authorization is still re-checked against
// current roles on every call.
//
// If the append fails the message is not broadcast to anyone: visible
// implies recorded. The router never retries the append; retrying is
// the client's call.
func (r *Router) Send(ctx context.Context, sender types.Identity, conversationKey, text string) (*types.Message, error) {
	if err := types.ValidateMessageText(text); err != nil {
		return nil, err
	}

	if err := r.authority.CanAccess(ctx, sender, conversationKey); err != nil {
		return nil, err
	}

	mu := r.stripe(conversationKey)
	mu.Lock()
	defer mu.Unlock()

	msg, err := r.store.Append(ctx, conversationKey, sender.ID, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	r.fanOut(conversationKey, msg)
	return msg, nil
}

// fanOut delivers a persisted message to every live subscribed session.
// Caller holds the conversation stripe, so deliveries happen in store
// sequence order for every subscriber. Individual write failures are
// logged and skipped; a target disconnecting between snapshot and write
// surfaces as a closed-connection error here, not a lost delivery.
func (r *Router) fanOut(conversationKey string, msg *types.Message) {
	event := types.NewMessageEvent(msg)
	for _, conn := range r.registry.SessionsFor(conversationKey) {
		if err := conn.WriteEvent(event); err != nil {
			if !errors.Is(err, websocket.ErrConnectionClosed) {
				r.log.Warn().Err(err).
					Str("session", conn.ID()).
					Str("conversation", conversationKey).
					Int64("seq", msg.Seq).
					Msg("fan-out delivery failed")
			}
		}
	}
}

// HandleDisconnect tears down all registry state for a closed session.
// Idempotent; duplicate disconnect events are harmless.
func (r *Router) HandleDisconnect(conn interfaces.Connection) {
	r.registry.Deregister(conn.ID())
	r.log.Debug().
		Str("session", conn.ID()).
		Str("user", conn.Identity().ID).
		Dur("lifetime", time.Since(conn.ConnectedAt())).
		Msg("session deregistered")
}

// writeError maps a routing error to its protocol kind and reports it
// to the originating session only. Errors are never broadcast.
func (r *Router) writeError(conn interfaces.Connection, err error) {
	r.writeErrorKind(conn, KindFor(err), err.Error())
}

func (r *Router) writeErrorKind(conn interfaces.Connection, kind, detail string) {
	if err := conn.WriteEvent(types.NewErrorEvent(kind, detail)); err != nil {
		r.log.Debug().Err(err).Str("session", conn.ID()).Msg("error event not delivered")
	}
}

// KindFor maps an error from the join/send pipeline to a protocol error
// kind. Authorization failures and malformed keys map to
// AuthorizationError; boundary validation to InvalidEventError;
// everything else reaching the client is a store-side DeliveryError.
func KindFor(err error) string {
	switch {
	case errors.Is(err, membership.ErrSelfConversation),
		errors.Is(err, membership.ErrPairingDenied),
		errors.Is(err, membership.ErrNotParticipant),
		errors.Is(err, membership.ErrUnknownCounterparty),
		errors.Is(err, membership.ErrInvalidKey):
		return types.ErrorKindAuthorization
	case errors.Is(err, types.ErrEmptyMessage),
		errors.Is(err, types.ErrMessageTooLarge),
		errors.Is(err, websocket.ErrSessionNotRegistered):
		return types.ErrorKindInvalidEvent
	default:
		return types.ErrorKindDelivery
	}
}
