package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

// Config holds the SQLite connection settings.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	WriteTimeout    time.Duration
}

// Manager is the SQLite-backed message store and role directory. Reads
// go straight to the pooled connection; every write funnels through a
// single goroutine, which sidesteps SQLite write contention and is also
// what makes per-conversation sequence assignment race-free.
type Manager struct {
	db      *sql.DB
	cfg     Config
	writeCh chan writeOp
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	mu      sync.RWMutex
	log     zerolog.Logger
}

var (
	_ interfaces.MessageStore     = (*Manager)(nil)
	_ interfaces.RoleDirectory    = (*Manager)(nil)
	_ interfaces.IdentityRecorder = (*Manager)(nil)
)

type writeOp struct {
	run    func(*sql.DB) error
	result chan error
}

// NewManager opens the database, applies the schema, and starts the
// writer goroutine.
func NewManager(cfg Config, log zerolog.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &Manager{
		db:      db,
		cfg:     cfg,
		writeCh: make(chan writeOp, 100),
		done:    make(chan struct{}),
		log:     log,
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop executes all writes sequentially, retrying each once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeCh:
			err := op.run(m.db)
			if err != nil {
				m.log.Warn().Err(err).Msg("write failed, retrying once")
				err = op.run(m.db)
				if err != nil {
					m.log.Error().Err(err).Msg("write failed after retry")
				}
			}
			op.result <- err

		case <-m.done:
			return
		}
	}
}

// executeWrite queues one write and waits for it to complete.
func (m *Manager) executeWrite(ctx context.Context, run func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := m.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case m.writeCh <- writeOp{run: run, result: result}:
	case <-time.After(timeout):
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.done:
		return ErrStoreClosed
	}
}

// EnsureConversation creates the conversation row on first contact.
// Idempotent for the same derived key.
func (m *Manager) EnsureConversation(ctx context.Context, conv *types.Conversation) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT OR IGNORE INTO conversations (key, pairing, participant_lo, participant_hi, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			conv.Key, conv.Pairing, conv.ParticipantLo, conv.ParticipantHi, conv.CreatedAt.UTC(),
		)
		return err
	})
}

// Append persists one message and assigns the next sequence number in
// its conversation. The seq read and insert run in one transaction on
// the single writer, so concurrent appends to one conversation receive
// strictly increasing sequences.
func (m *Manager) Append(ctx context.Context, conversationKey, senderID, text string) (*types.Message, error) {
	msg := &types.Message{
		ID:              uuid.New().String(),
		ConversationKey: conversationKey,
		SenderID:        senderID,
		Text:            text,
		CreatedAt:       time.Now().UTC(),
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM conversations WHERE key = ?`, conversationKey).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return interfaces.ErrConversationNotFound
		}

		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_key = ?`,
			conversationKey,
		).Scan(&msg.Seq); err != nil {
			return err
		}

		if _, err := tx.Exec(
			`INSERT INTO messages (id, conversation_key, seq, sender_id, body, seen, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?)`,
			msg.ID, msg.ConversationKey, msg.Seq, msg.SenderID, msg.Text, msg.CreatedAt,
		); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Page returns up to limit messages, most recent first. beforeSeq of
// zero pages from the latest message.
func (m *Manager) Page(ctx context.Context, conversationKey string, beforeSeq int64, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		return []*types.Message{}, nil
	}

	query := `SELECT id, conversation_key, seq, sender_id, body, seen, created_at
		FROM messages WHERE conversation_key = ?`
	args := []any{conversationKey}
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*types.Message{}
	for rows.Next() {
		msg := &types.Message{}
		var seen int
		if err := rows.Scan(&msg.ID, &msg.ConversationKey, &msg.Seq, &msg.SenderID, &msg.Text, &seen, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Seen = seen != 0
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ConversationsFor lists the user's conversations, newest first.
func (m *Manager) ConversationsFor(ctx context.Context, userID string) ([]*types.Conversation, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT key, pairing, participant_lo, participant_hi, created_at
		 FROM conversations
		 WHERE participant_lo = ? OR participant_hi = ?
		 ORDER BY created_at DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*types.Conversation{}
	for rows.Next() {
		conv := &types.Conversation{}
		if err := rows.Scan(&conv.Key, &conv.Pairing, &conv.ParticipantLo, &conv.ParticipantHi, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// MarkSeen flags the counterparty's messages in the conversation as
// seen by readerID.
func (m *Manager) MarkSeen(ctx context.Context, conversationKey, readerID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`UPDATE messages SET seen = 1
			 WHERE conversation_key = ? AND sender_id <> ? AND seen = 0`,
			conversationKey, readerID,
		)
		return err
	})
}

// DeleteConversation removes the conversation; messages cascade.
func (m *Manager) DeleteConversation(ctx context.Context, conversationKey string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.Exec(`DELETE FROM conversations WHERE key = ?`, conversationKey)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return interfaces.ErrConversationNotFound
		}
		return nil
	})
}

// UpsertUser mirrors an identity into the users table, updating the
// role if the platform changed it since the last connect.
func (m *Manager) UpsertUser(ctx context.Context, identity types.Identity) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO users (id, name, role, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role, updated_at = excluded.updated_at`,
			identity.ID, identity.Name, string(identity.Role), time.Now().UTC(),
		)
		return err
	})
}

// RoleOf resolves the current role of a user.
func (m *Manager) RoleOf(ctx context.Context, userID string) (types.Role, error) {
	var role string
	err := m.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", interfaces.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying role: %w", err)
	}
	return types.Role(role), nil
}

// HealthCheck verifies the database answers queries.
func (m *Manager) HealthCheck(ctx context.Context) error {
	var one int
	if err := m.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. A write already
// executing completes; queued writes fail with ErrStoreClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	return m.db.Close()
}
