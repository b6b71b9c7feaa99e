package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Path:            filepath.Join(t.TempDir(), "chat.db"),
		MaxConnections:  5,
		ConnMaxLifetime: time.Minute,
		WriteTimeout:    5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func seedConversation(t *testing.T, m *Manager, key string) *types.Conversation {
	t.Helper()
	conv := &types.Conversation{
		Key:           key,
		Pairing:       "um",
		ParticipantLo: "m1",
		ParticipantHi: "u1",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, m.EnsureConversation(context.Background(), conv))
	return conv
}

func TestUpsertUserAndRoleOf(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.RoleOf(ctx, "u1")
	assert.ErrorIs(t, err, interfaces.ErrUserNotFound)

	require.NoError(t, m.UpsertUser(ctx, types.Identity{ID: "u1", Name: "Sam", Role: types.RoleUser}))
	role, err := m.RoleOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, role)

	// Re-upserting with a new role overwrites the old one.
	require.NoError(t, m.UpsertUser(ctx, types.Identity{ID: "u1", Name: "Sam", Role: types.RoleMentor}))
	role, err = m.RoleOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleMentor, role)
}

func TestEnsureConversation_Idempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	conv := seedConversation(t, m, "dm:um:m1:u1")
	require.NoError(t, m.EnsureConversation(ctx, conv))

	conversations, err := m.ConversationsFor(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "dm:um:m1:u1", conversations[0].Key)
	assert.Equal(t, "um", conversations[0].Pairing)
}

func TestAppend_AssignsSequences(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedConversation(t, m, "dm:um:m1:u1")

	for i := 1; i <= 3; i++ {
		msg, err := m.Append(ctx, "dm:um:m1:u1", "u1", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.Seq)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Seen)
	}
}

func TestAppend_UnknownConversation(t *testing.T) {
	m := newTestManager(t)

	msg, err := m.Append(context.Background(), "dm:um:ghost:u1", "u1", "hello?")
	assert.ErrorIs(t, err, interfaces.ErrConversationNotFound)
	assert.Nil(t, msg)
}

func TestAppend_ConcurrentSequencesAreUnique(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedConversation(t, m, "dm:um:m1:u1")

	const total = 50
	seqs := make(chan int64, total)
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := m.Append(ctx, "dm:um:m1:u1", "u1", fmt.Sprintf("concurrent %d", i))
			if err == nil {
				seqs <- msg.Seq
			}
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "duplicate seq %d", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, total)
}

func TestPage_MostRecentFirstWithCursor(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedConversation(t, m, "dm:um:m1:u1")

	for i := 1; i <= 5; i++ {
		_, err := m.Append(ctx, "dm:um:m1:u1", "u1", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	page, err := m.Page(ctx, "dm:um:m1:u1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)

	// The cursor pages strictly older messages.
	page, err = m.Page(ctx, "dm:um:m1:u1", 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(1), page[2].Seq)
}

func TestPage_EmptyConversation(t *testing.T) {
	m := newTestManager(t)
	seedConversation(t, m, "dm:um:m1:u1")

	page, err := m.Page(context.Background(), "dm:um:m1:u1", 0, 10)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestMarkSeen_OnlyCounterpartyMessages(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedConversation(t, m, "dm:um:m1:u1")

	_, err := m.Append(ctx, "dm:um:m1:u1", "u1", "from user")
	require.NoError(t, err)
	_, err = m.Append(ctx, "dm:um:m1:u1", "m1", "from mentor")
	require.NoError(t, err)

	require.NoError(t, m.MarkSeen(ctx, "dm:um:m1:u1", "u1"))

	page, err := m.Page(ctx, "dm:um:m1:u1", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	for _, msg := range page {
		if msg.SenderID == "m1" {
			assert.True(t, msg.Seen, "counterparty message should be seen")
		} else {
			assert.False(t, msg.Seen, "reader's own message stays unseen")
		}
	}
}

func TestDeleteConversation_CascadesMessages(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedConversation(t, m, "dm:um:m1:u1")

	_, err := m.Append(ctx, "dm:um:m1:u1", "u1", "doomed")
	require.NoError(t, err)

	require.NoError(t, m.DeleteConversation(ctx, "dm:um:m1:u1"))

	conversations, err := m.ConversationsFor(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, conversations)

	// A later append fails rather than resurrecting the conversation.
	_, err = m.Append(ctx, "dm:um:m1:u1", "u1", "too late")
	assert.ErrorIs(t, err, interfaces.ErrConversationNotFound)
}

func TestDeleteConversation_NotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.DeleteConversation(context.Background(), "dm:um:ghost:u1")
	assert.ErrorIs(t, err, interfaces.ErrConversationNotFound)
}

func TestHealthCheck(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.HealthCheck(context.Background()))
}

func TestClose_Idempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.UpsertUser(context.Background(), types.Identity{ID: "u1", Role: types.RoleUser})
	assert.ErrorIs(t, err, ErrStoreClosed)
}
