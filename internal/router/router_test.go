package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorchat/internal/membership"
	"mentorchat/internal/websocket"
	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

// fakeDirectory backs the membership authority in router tests.
type fakeDirectory struct {
	mu    sync.Mutex
	roles map[string]types.Role
}

func (f *fakeDirectory) RoleOf(_ context.Context, userID string) (types.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[userID]
	if !ok {
		return "", interfaces.ErrUserNotFound
	}
	return role, nil
}

func (f *fakeDirectory) setRole(userID string, role types.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[userID] = role
}

// fakeStore is an in-memory message store with controllable failures.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]*types.Conversation
	messages      map[string][]*types.Message
	appendErr     error
	pageErr       error
	appendCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*types.Conversation),
		messages:      make(map[string][]*types.Message),
	}
}

func (f *fakeStore) EnsureConversation(_ context.Context, conv *types.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversations[conv.Key]; !ok {
		f.conversations[conv.Key] = conv
	}
	return nil
}

func (f *fakeStore) Append(_ context.Context, conversationKey, senderID, text string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	msg := &types.Message{
		ID:              fmt.Sprintf("msg-%d", f.appendCalls),
		ConversationKey: conversationKey,
		Seq:             int64(len(f.messages[conversationKey]) + 1),
		SenderID:        senderID,
		Text:            text,
		CreatedAt:       time.Now().UTC(),
	}
	f.messages[conversationKey] = append(f.messages[conversationKey], msg)
	return msg, nil
}

func (f *fakeStore) Page(_ context.Context, conversationKey string, beforeSeq int64, limit int) ([]*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	all := f.messages[conversationKey]
	page := []*types.Message{}
	for i := len(all) - 1; i >= 0 && len(page) < limit; i-- {
		if beforeSeq > 0 && all[i].Seq >= beforeSeq {
			continue
		}
		page = append(page, all[i])
	}
	return page, nil
}

func (f *fakeStore) ConversationsFor(_ context.Context, userID string) ([]*types.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []*types.Conversation{}
	for _, conv := range f.conversations {
		if conv.HasParticipant(userID) {
			result = append(result, conv)
		}
	}
	return result, nil
}

func (f *fakeStore) MarkSeen(_ context.Context, _, _ string) error        { return nil }
func (f *fakeStore) DeleteConversation(_ context.Context, _ string) error { return nil }
func (f *fakeStore) HealthCheck(_ context.Context) error                  { return nil }
func (f *fakeStore) Close() error                                         { return nil }

// recordingConn captures every event written to a session.
type recordingConn struct {
	id       string
	identity types.Identity
	mu       sync.Mutex
	events   []any
	closed   bool
}

func newRecordingConn(sessionID, userID string, role types.Role) *recordingConn {
	return &recordingConn{
		id:       sessionID,
		identity: types.Identity{ID: userID, Name: userID, Role: role},
	}
}

func (c *recordingConn) ID() string               { return c.id }
func (c *recordingConn) Identity() types.Identity { return c.identity }
func (c *recordingConn) ConnectedAt() time.Time   { return time.Time{} }

func (c *recordingConn) WriteEvent(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrConnectionClosed
	}
	c.events = append(c.events, v)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) messageEvents() []*types.MessageEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.MessageEvent
	for _, event := range c.events {
		if msg, ok := event.(*types.MessageEvent); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (c *recordingConn) errorEvents() []*types.ErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.ErrorEvent
	for _, event := range c.events {
		if errEvent, ok := event.(*types.ErrorEvent); ok {
			out = append(out, errEvent)
		}
	}
	return out
}

func (c *recordingConn) joinAcks() []*types.JoinAckEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.JoinAckEvent
	for _, event := range c.events {
		if ack, ok := event.(*types.JoinAckEvent); ok {
			out = append(out, ack)
		}
	}
	return out
}

type testEnv struct {
	router    *Router
	registry  *websocket.Registry
	store     *fakeStore
	directory *fakeDirectory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	directory := &fakeDirectory{roles: map[string]types.Role{
		"u1": types.RoleUser,
		"u2": types.RoleUser,
		"m1": types.RoleMentor,
		"a1": types.RoleAdmin,
	}}
	store := newFakeStore()
	registry := websocket.NewRegistry()
	rt := NewRouter(registry, membership.NewAuthority(directory), store, 50, zerolog.Nop())
	return &testEnv{router: rt, registry: registry, store: store, directory: directory}
}

func (e *testEnv) connect(t *testing.T, sessionID, userID string, role types.Role) *recordingConn {
	t.Helper()
	conn := newRecordingConn(sessionID, userID, role)
	require.NoError(t, e.registry.Register(conn))
	return conn
}

const keyU1M1 = "dm:um:m1:u1"

func TestHandleJoin_Success(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "s1", "u1", types.RoleUser)

	env.router.HandleJoin(context.Background(), conn, "m1")

	acks := conn.joinAcks()
	require.Len(t, acks, 1)
	assert.Equal(t, keyU1M1, acks[0].ConversationKey)
	assert.NotNil(t, acks[0].History)
	assert.True(t, env.registry.IsSubscribed("s1", keyU1M1))
	assert.Empty(t, conn.errorEvents())

	// The conversation record exists after first join.
	_, ok := env.store.conversations[keyU1M1]
	assert.True(t, ok)
}

func TestHandleJoin_RepeatedJoinsResolveSameKey(t *testing.T) {
	env := newTestEnv(t)
	userConn := env.connect(t, "s1", "u1", types.RoleUser)
	mentorConn := env.connect(t, "s2", "m1", types.RoleMentor)

	env.router.HandleJoin(context.Background(), userConn, "m1")
	env.router.HandleJoin(context.Background(), mentorConn, "u1")

	require.Len(t, userConn.joinAcks(), 1)
	require.Len(t, mentorConn.joinAcks(), 1)
	assert.Equal(t, userConn.joinAcks()[0].ConversationKey, mentorConn.joinAcks()[0].ConversationKey)
	assert.Len(t, env.store.conversations, 1)
}

func TestHandleJoin_AuthorizationDenied(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "s1", "a1", types.RoleAdmin)

	env.router.HandleJoin(context.Background(), conn, "u1")

	errs := conn.errorEvents()
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrorKindAuthorization, errs[0].Kind)
	assert.Empty(t, conn.joinAcks())
	assert.Empty(t, env.registry.SessionsFor("dm:um:a1:u1"))
	assert.Empty(t, env.store.conversations)
}

func TestHandleJoin_HistoryFailureRollsBackSubscription(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "s1", "u1", types.RoleUser)
	env.store.pageErr = errors.New("disk on fire")

	env.router.HandleJoin(context.Background(), conn, "m1")

	errs := conn.errorEvents()
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrorKindDelivery, errs[0].Kind)
	assert.Empty(t, conn.joinAcks())
	assert.False(t, env.registry.IsSubscribed("s1", keyU1M1))
}

func TestHandleSend_RequiresJoin(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "s1", "u1", types.RoleUser)

	env.router.HandleSend(context.Background(), conn, keyU1M1, "Hello")

	errs := conn.errorEvents()
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrorKindNotSubscribed, errs[0].Kind)
	// The store was never touched: no persistence call for a forged send.
	assert.Zero(t, env.store.appendCalls)
}

func TestHandleSend_NoFanOutWithoutPersistence(t *testing.T) {
	env := newTestEnv(t)
	sender := env.connect(t, "s1", "u1", types.RoleUser)
	receiver := env.connect(t, "s2", "m1", types.RoleMentor)

	env.router.HandleJoin(context.Background(), sender, "m1")
	env.router.HandleJoin(context.Background(), receiver, "u1")

	env.store.appendErr = errors.New("append failed")
	env.router.HandleSend(context.Background(), sender, keyU1M1, "Hello")

	// DeliveryError to the sender only; no message event anywhere,
	// the sender included.
	errs := sender.errorEvents()
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrorKindDelivery, errs[0].Kind)
	assert.Empty(t, sender.messageEvents())
	assert.Empty(t, receiver.messageEvents())
	assert.Empty(t, receiver.errorEvents())
}

func TestHandleSend_EchoToAllSessionsOfBothParticipants(t *testing.T) {
	env := newTestEnv(t)
	senderTab1 := env.connect(t, "s1", "u1", types.RoleUser)
	senderTab2 := env.connect(t, "s2", "u1", types.RoleUser)
	mentorConn := env.connect(t, "s3", "m1", types.RoleMentor)

	ctx := context.Background()
	env.router.HandleJoin(ctx, senderTab1, "m1")
	env.router.HandleJoin(ctx, senderTab2, "m1")
	env.router.HandleJoin(ctx, mentorConn, "u1")

	env.router.HandleSend(ctx, senderTab1, keyU1M1, "Hello")

	// Exactly one message event per live session, originating session
	// included.
	for _, conn := range []*recordingConn{senderTab1, senderTab2, mentorConn} {
		events := conn.messageEvents()
		require.Len(t, events, 1, "session %s", conn.ID())
		assert.Equal(t, "Hello", events[0].Message.Text)
		assert.Equal(t, "u1", events[0].Message.SenderID)
		assert.Equal(t, int64(1), events[0].Message.Seq)
	}
}

func TestHandleSend_RoleChangeRevokesMidSession(t *testing.T) {
	env := newTestEnv(t)
	sender := env.connect(t, "s1", "u1", types.RoleUser)
	env.router.HandleJoin(context.Background(), sender, "m1")

	// Promotion after join: the subscription survives but access is
	// re-validated on every send.
	env.directory.setRole("u1", types.RoleAdmin)

	env.router.HandleSend(context.Background(), sender, keyU1M1, "Hello")

	errs := sender.errorEvents()
	require.Len(t, errs, 1)
	assert.Equal(t, types.ErrorKindAuthorization, errs[0].Kind)
	assert.Empty(t, sender.messageEvents())
}

func TestHandleSend_OrderPreservedAcrossConcurrentSenders(t *testing.T) {
	env := newTestEnv(t)
	sender := env.connect(t, "s1", "u1", types.RoleUser)
	receiver := env.connect(t, "s2", "m1", types.RoleMentor)

	ctx := context.Background()
	env.router.HandleJoin(ctx, sender, "m1")
	env.router.HandleJoin(ctx, receiver, "u1")

	const perSender = 25
	var wg sync.WaitGroup
	for _, conn := range []*recordingConn{sender, receiver} {
		wg.Add(1)
		go func(c *recordingConn) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				env.router.HandleSend(ctx, c, keyU1M1, fmt.Sprintf("from %s #%d", c.Identity().ID, i))
			}
		}(conn)
	}
	wg.Wait()

	// Every subscriber observes all messages in strictly increasing
	// sequence order, matching persistence order.
	for _, conn := range []*recordingConn{sender, receiver} {
		events := conn.messageEvents()
		require.Len(t, events, 2*perSender, "session %s", conn.ID())
		for i := 1; i < len(events); i++ {
			assert.Greater(t, events[i].Message.Seq, events[i-1].Message.Seq,
				"session %s saw seq %d after %d", conn.ID(), events[i].Message.Seq, events[i-1].Message.Seq)
		}
	}

	// Both subscribers observed the same total order.
	senderSeqs := make([]int64, 0, 2*perSender)
	receiverSeqs := make([]int64, 0, 2*perSender)
	for _, event := range sender.messageEvents() {
		senderSeqs = append(senderSeqs, event.Message.Seq)
	}
	for _, event := range receiver.messageEvents() {
		receiverSeqs = append(receiverSeqs, event.Message.Seq)
	}
	assert.Equal(t, senderSeqs, receiverSeqs)
}

func TestHandleLeave_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "s1", "u1", types.RoleUser)
	env.router.HandleJoin(context.Background(), conn, "m1")

	env.router.HandleLeave(conn, keyU1M1)
	env.router.HandleLeave(conn, keyU1M1)
	env.router.HandleLeave(conn, "dm:um:m1:u2") // never joined

	assert.False(t, env.registry.IsSubscribed("s1", keyU1M1))
	assert.Empty(t, conn.errorEvents())
}

func TestHandleDisconnect_StopsFanOut(t *testing.T) {
	env := newTestEnv(t)
	sender := env.connect(t, "s1", "u1", types.RoleUser)
	receiver := env.connect(t, "s2", "m1", types.RoleMentor)

	ctx := context.Background()
	env.router.HandleJoin(ctx, sender, "m1")
	env.router.HandleJoin(ctx, receiver, "u1")

	env.router.HandleDisconnect(receiver)
	env.router.HandleDisconnect(receiver) // duplicate disconnect event

	env.router.HandleSend(ctx, sender, keyU1M1, "anyone there?")

	require.Len(t, sender.messageEvents(), 1)
	assert.Empty(t, receiver.messageEvents())
}

func TestSend_RESTPathFansOutToSubscribers(t *testing.T) {
	env := newTestEnv(t)
	receiver := env.connect(t, "s1", "m1", types.RoleMentor)
	env.router.HandleJoin(context.Background(), receiver, "u1")

	// REST sender has no live session at all.
	msg, err := env.router.Send(context.Background(), types.Identity{ID: "u1", Role: types.RoleUser}, keyU1M1, "sent over REST")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)

	events := receiver.messageEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "sent over REST", events[0].Message.Text)
}

func TestSend_ValidatesText(t *testing.T) {
	env := newTestEnv(t)
	identity := types.Identity{ID: "u1", Role: types.RoleUser}

	_, err := env.router.Send(context.Background(), identity, keyU1M1, "")
	assert.ErrorIs(t, err, types.ErrEmptyMessage)
	assert.Zero(t, env.store.appendCalls)
}

func TestKindFor(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind string
	}{
		{"pairing denied", membership.ErrPairingDenied, types.ErrorKindAuthorization},
		{"self conversation", membership.ErrSelfConversation, types.ErrorKindAuthorization},
		{"not participant", membership.ErrNotParticipant, types.ErrorKindAuthorization},
		{"invalid key", membership.ErrInvalidKey, types.ErrorKindAuthorization},
		{"unknown counterparty", membership.ErrUnknownCounterparty, types.ErrorKindAuthorization},
		{"empty message", types.ErrEmptyMessage, types.ErrorKindInvalidEvent},
		{"oversized message", types.ErrMessageTooLarge, types.ErrorKindInvalidEvent},
		{"store failure", ErrDeliveryFailed, types.ErrorKindDelivery},
		{"anything else", errors.New("boom"), types.ErrorKindDelivery},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindFor(tc.err))
		})
	}
}
