package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []struct {
	name string
	ddl  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'student',
			avatar_url TEXT
		)`},
	{"conversations", `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			pair_key TEXT NOT NULL UNIQUE,
			participant_a UUID NOT NULL,
			participant_b UUID NOT NULL,
			last_message_content TEXT,
			last_message_at TIMESTAMPTZ,
			last_message_sender UUID,
			unread_a INT NOT NULL DEFAULT 0,
			unread_b INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`},
	{"conversations_participant_a_idx", `CREATE INDEX IF NOT EXISTS conversations_participant_a_idx ON conversations (participant_a)`},
	{"conversations_participant_b_idx", `CREATE INDEX IF NOT EXISTS conversations_participant_b_idx ON conversations (participant_b)`},
	{"messages", `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations (id),
			sender_id UUID NOT NULL,
			receiver_id UUID NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`},
	{"messages_conversation_created_idx", `CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON messages (conversation_id, created_at DESC, id DESC)`},
	{"notifications", `
		CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			link TEXT,
			read_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`},
	{"notifications_user_idx", `CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications (user_id, created_at DESC)`},
	{"audit_log", `
		CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			event_time TIMESTAMPTZ NOT NULL,
			actor_user_id UUID,
			actor_role TEXT NOT NULL,
			conversation_id UUID,
			event_type TEXT NOT NULL,
			payload JSONB
		)`},
}

// EnsureSchema creates the tables this service owns if they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range postgresSchema {
		if _, err := db.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("create %s: %w", stmt.name, err)
		}
	}
	return nil
}
