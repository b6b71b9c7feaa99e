package store

import (
	"database/sql"
	"fmt"
)

// Schema DDL. Applied on startup; every statement is idempotent so a
// restart against an existing database is a no-op.
//
// messages.seq is assigned inside the single writer as MAX(seq)+1 per
// conversation, which makes (conversation_key, seq) the authoritative
// total order regardless of client or server clock skew.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		role       TEXT NOT NULL CHECK (role IN ('USER', 'MENTOR', 'ADMIN')),
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		key            TEXT PRIMARY KEY,
		pairing        TEXT NOT NULL CHECK (pairing IN ('um', 'ma')),
		participant_lo TEXT NOT NULL,
		participant_hi TEXT NOT NULL,
		created_at     TIMESTAMP NOT NULL,
		CHECK (participant_lo < participant_hi)
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id               TEXT PRIMARY KEY,
		conversation_key TEXT NOT NULL REFERENCES conversations(key) ON DELETE CASCADE,
		seq              INTEGER NOT NULL,
		sender_id        TEXT NOT NULL,
		body             TEXT NOT NULL,
		seen             INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMP NOT NULL,
		UNIQUE (conversation_key, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
		ON messages(conversation_key, seq DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_conversations_participants
		ON conversations(participant_lo, participant_hi)`,
}

// applySchema runs the DDL statements in order.
func applySchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}
