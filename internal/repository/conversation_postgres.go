package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

type postgresConversationStore struct {
	db  *pgxpool.Pool
	log logger.Logger
	now func() time.Time
}

func NewPostgresConversationStore(db *pgxpool.Pool, log logger.Logger) ConversationStore {
	return &postgresConversationStore{db: db, log: log, now: time.Now}
}

const conversationColumns = `
	id, participant_a, participant_b, last_message_content, last_message_at,
	last_message_sender, unread_a, unread_b, created_at, updated_at
`

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	var (
		lastContent      *string
		lastAt           *time.Time
		lastSender       *uuid.UUID
		unreadA, unreadB int
	)
	err := row.Scan(
		&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &lastContent, &lastAt,
		&lastSender, &unreadA, &unreadB, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastContent != nil && lastAt != nil && lastSender != nil {
		conv.LastMessage = &domain.MessageSummary{Content: *lastContent, SentAt: *lastAt, SenderID: *lastSender}
	}
	conv.Unread = map[uuid.UUID]int{conv.ParticipantA: unreadA, conv.ParticipantB: unreadB}
	return conv, nil
}

func (r *postgresConversationStore) FindOrCreateConversation(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, bool, error) {
	conv := domain.NewConversation(userA, userB, r.now().UTC())

	query := `
		INSERT INTO conversations (id, pair_key, participant_a, participant_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING` + conversationColumns

	created, err := scanConversation(r.db.QueryRow(ctx, query,
		conv.ID, domain.PairKey(userA, userB), conv.ParticipantA, conv.ParticipantB, conv.CreatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.log.Error("Failed to create conversation", "error", err)
		return nil, false, err
	}

	// Конфликт: беседа уже существует
	existing, err := r.GetConversation(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *postgresConversationStore) GetConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT` + conversationColumns + `FROM conversations WHERE id = $1`

	conv, err := scanConversation(r.db.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to get conversation", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	return conv, nil
}

func (r *postgresConversationStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	query := `SELECT` + conversationColumns + `
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC, id
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to list conversations", "error", err)
		return nil, err
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			r.log.Error("Failed to scan conversation", "error", err)
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (r *postgresConversationStore) GetMessages(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]*domain.Message, error) {
	page = domain.NormalizePage(page)
	var before *time.Time
	if !page.Before.IsZero() {
		before = &page.Before
	}

	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, created_at
		FROM messages
		WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, before, page.Limit)
	if err != nil {
		r.log.Error("Failed to get messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.CreatedAt); err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	domain.SortMessages(messages)
	return messages, nil
}

func (r *postgresConversationStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, msg *domain.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	// Блокируем строку беседы, чтобы метки времени шли строго по возрастанию
	var lastAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT last_message_at FROM conversations WHERE id = $1 FOR UPDATE`, conversationID,
	).Scan(&lastAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to lock conversation", "error", err)
		return err
	}

	var last time.Time
	if lastAt != nil {
		last = *lastAt
	}
	msg.ConversationID = conversationID
	msg.CreatedAt = domain.NextTimestamp(last, r.now())

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.CreatedAt)
	if err != nil {
		r.log.Error("Failed to insert message", "error", err)
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_content = $2,
		    last_message_at = $3,
		    last_message_sender = $4,
		    updated_at = $3,
		    unread_a = unread_a + CASE WHEN participant_a = $5 THEN 1 ELSE 0 END,
		    unread_b = unread_b + CASE WHEN participant_b = $5 THEN 1 ELSE 0 END
		WHERE id = $1
	`, conversationID, msg.Content, msg.CreatedAt, msg.SenderID, msg.ReceiverID)
	if err != nil {
		r.log.Error("Failed to update conversation summary", "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit message", "error", err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (r *postgresConversationStore) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	query := `
		WITH prev AS (
			SELECT id, CASE WHEN participant_a = $2 THEN unread_a ELSE unread_b END AS cleared
			FROM conversations
			WHERE id = $1 AND (participant_a = $2 OR participant_b = $2)
			FOR UPDATE
		)
		UPDATE conversations c
		SET unread_a = CASE WHEN c.participant_a = $2 THEN 0 ELSE c.unread_a END,
		    unread_b = CASE WHEN c.participant_b = $2 THEN 0 ELSE c.unread_b END
		FROM prev
		WHERE c.id = prev.id
		RETURNING prev.cleared
	`

	var cleared int
	if err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&cleared); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to mark conversation read", "error", err)
		return 0, err
	}
	return cleared, nil
}

func (r *postgresConversationStore) UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN participant_a = $1 THEN unread_a ELSE unread_b END), 0)
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
	`

	var total int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		r.log.Error("Failed to count unread messages", "error", err)
		return 0, err
	}
	return total, nil
}
