package websocket

import (
	"sync"

	"mentorchat/pkg/interfaces"
)

// Registry holds the live mapping from identities to sessions and from
// conversations to subscribed sessions. It is the only mutable shared
// state in the core; every mutation goes through the methods below and
// none of them ever suspends, so connect/disconnect churn stays cheap.
//
// A single identity may hold any number of concurrent sessions
// (multi-tab, multi-device); each subscribes and receives fan-out
// independently.
type Registry struct {
	mu             sync.RWMutex
	sessions       map[string]interfaces.Connection            // sessionID -> connection
	byUser         map[string]map[string]interfaces.Connection // userID -> sessionID -> connection
	byConversation map[string]map[string]interfaces.Connection // conversationKey -> sessionID -> connection
	subscriptions  map[string]map[string]struct{}              // sessionID -> set of conversation keys
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:       make(map[string]interfaces.Connection),
		byUser:         make(map[string]map[string]interfaces.Connection),
		byConversation: make(map[string]map[string]interfaces.Connection),
		subscriptions:  make(map[string]map[string]struct{}),
	}
}

// Register adds a new live session. Unlike a replace-on-reconnect
// scheme, a second session for the same identity coexists with the
// first; both receive fan-out until they disconnect.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	sessionID := conn.ID()
	userID := conn.Identity().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return ErrDuplicateSession
	}

	r.sessions[sessionID] = conn
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]interfaces.Connection)
	}
	r.byUser[userID][sessionID] = conn
	r.subscriptions[sessionID] = make(map[string]struct{})

	return nil
}

// Subscribe adds the session to a conversation's live subscriber set.
// The caller must have authorized the join first. Subscribing twice is
// a no-op, not an error.
func (r *Registry) Subscribe(sessionID, conversationKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.sessions[sessionID]
	if !exists {
		return ErrSessionNotRegistered
	}

	if r.byConversation[conversationKey] == nil {
		r.byConversation[conversationKey] = make(map[string]interfaces.Connection)
	}
	r.byConversation[conversationKey][sessionID] = conn
	r.subscriptions[sessionID][conversationKey] = struct{}{}

	return nil
}

// Unsubscribe removes the session from a conversation's live set. Never
// errors on a missing subscription or an unknown session.
func (r *Registry) Unsubscribe(sessionID, conversationKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeSubscriptionLocked(sessionID, conversationKey)
}

// Deregister removes the session from every conversation it was
// subscribed to and from the identity map. Idempotent: duplicate
// disconnect events are no-ops.
func (r *Registry) Deregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.sessions[sessionID]
	if !exists {
		return
	}

	for conversationKey := range r.subscriptions[sessionID] {
		r.removeSubscriptionLocked(sessionID, conversationKey)
	}
	delete(r.subscriptions, sessionID)

	userID := conn.Identity().ID
	if sessions, ok := r.byUser[userID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.byUser, userID)
		}
	}

	delete(r.sessions, sessionID)
}

// removeSubscriptionLocked drops one (session, conversation) edge and
// cleans up empty maps. Caller holds the write lock.
func (r *Registry) removeSubscriptionLocked(sessionID, conversationKey string) {
	if subscribers, ok := r.byConversation[conversationKey]; ok {
		delete(subscribers, sessionID)
		if len(subscribers) == 0 {
			delete(r.byConversation, conversationKey)
		}
	}
	if keys, ok := r.subscriptions[sessionID]; ok {
		delete(keys, conversationKey)
	}
}

// IsSubscribed reports whether the session currently holds a live
// subscription to the conversation.
func (r *Registry) IsSubscribed(sessionID, conversationKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.subscriptions[sessionID][conversationKey]
	return ok
}

// SessionsFor returns a snapshot of the live sessions subscribed to the
// conversation. The snapshot reflects only sessions that were live at
// call time; fan-out still checks each target's liveness on write since
// a target may disconnect between snapshot and delivery.
func (r *Registry) SessionsFor(conversationKey string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers := r.byConversation[conversationKey]
	conns := make([]interfaces.Connection, 0, len(subscribers))
	for _, conn := range subscribers {
		conns = append(conns, conn)
	}
	return conns
}

// SessionsForUser returns a snapshot of every live session owned by the
// identity.
func (r *Registry) SessionsForUser(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byUser[userID]
	conns := make([]interfaces.Connection, 0, len(sessions))
	for _, conn := range sessions {
		conns = append(conns, conn)
	}
	return conns
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"sessions":             len(r.sessions),
		"connected_users":      len(r.byUser),
		"active_conversations": len(r.byConversation),
	}
}
