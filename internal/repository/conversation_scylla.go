package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

const (
	scyllaTimestampResolution = time.Millisecond
	scyllaAppendAttempts      = 8
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ScyllaOptions configure the Scylla conversation store session.
type ScyllaOptions struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Timeout           time.Duration
	ReplicationFactor int
	Consistency       gocql.Consistency
}

// NewScyllaSession ensures the keyspace and tables exist and returns a
// session bound to the keyspace.
func NewScyllaSession(ctx context.Context, opts ScyllaOptions, log logger.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(opts.Keyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", opts.Keyspace)
	}

	baseSession, err := newScyllaCluster(opts, "").CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		opts.Keyspace, opts.ReplicationFactor,
	)
	if err := baseSession.Query(cql).WithContext(ctx).Exec(); err != nil {
		return nil, fmt.Errorf("create keyspace: %w", err)
	}

	session, err := newScyllaCluster(opts, opts.Keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", opts.Keyspace, err)
	}
	if err := ensureScyllaTables(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	log.Info("Scylla connected", "hosts", opts.Hosts, "keyspace", opts.Keyspace)
	return session, nil
}

func newScyllaCluster(opts ScyllaOptions, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(opts.Hosts...)
	cluster.Timeout = opts.Timeout
	cluster.ConnectTimeout = opts.Timeout
	cluster.Consistency = opts.Consistency
	cluster.Keyspace = keyspace
	if opts.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: opts.Username,
			Password: opts.Password,
		}
	}
	return cluster
}

func ensureScyllaTables(ctx context.Context, session *gocql.Session) error {
	statements := map[string]string{
		"conversations": `
CREATE TABLE IF NOT EXISTS conversations (
	id uuid PRIMARY KEY,
	participant_a uuid,
	participant_b uuid,
	created_at timestamp,
	last_message_at timestamp,
	last_message_id text,
	last_message_sender uuid,
	last_message_content text
)`,
		"user_conversations": `
CREATE TABLE IF NOT EXISTS user_conversations (
	user_id uuid,
	conversation_id uuid,
	PRIMARY KEY (user_id, conversation_id)
)`,
		"conversation_received": `
CREATE TABLE IF NOT EXISTS conversation_received (
	user_id uuid,
	conversation_id uuid,
	received counter,
	PRIMARY KEY (user_id, conversation_id)
)`,
		"conversation_reads": `
CREATE TABLE IF NOT EXISTS conversation_reads (
	user_id uuid,
	conversation_id uuid,
	read_count bigint,
	updated_at timestamp,
	PRIMARY KEY (user_id, conversation_id)
)`,
		"messages": `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id uuid,
	created_at timestamp,
	message_id text,
	sender_id uuid,
	receiver_id uuid,
	content text,
	PRIMARY KEY (conversation_id, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`,
	}
	for _, table := range []string{"conversations", "user_conversations", "conversation_received", "conversation_reads", "messages"} {
		if err := session.Query(statements[table]).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s table: %w", table, err)
		}
	}
	return nil
}

type scyllaConversationStore struct {
	session *gocql.Session
	log     logger.Logger
	now     func() time.Time
}

func NewScyllaConversationStore(session *gocql.Session, log logger.Logger) ConversationStore {
	return &scyllaConversationStore{session: session, log: log, now: time.Now}
}

func toCQL(id uuid.UUID) gocql.UUID   { return gocql.UUID(id) }
func fromCQL(id gocql.UUID) uuid.UUID { return uuid.UUID(id) }

func (s *scyllaConversationStore) FindOrCreateConversation(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, bool, error) {
	conv := domain.NewConversation(userA, userB, s.now().UTC().Truncate(scyllaTimestampResolution))
	return findOrCreateConversation(ctx, s, conv)
}

// scyllaRows is the row access the find-or-create and mark-read flows are
// built on.
type scyllaRows interface {
	GetConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	insertConversation(ctx context.Context, conv *domain.Conversation) (bool, error)
	indexParticipants(ctx context.Context, conv *domain.Conversation) error
	readCounts(ctx context.Context, userID, conversationID uuid.UUID) (received, read int64, hasCursor bool, err error)
	advanceReadCursor(ctx context.Context, userID, conversationID uuid.UUID, from int64, hasCursor bool, to int64) (bool, error)
}

// findOrCreateConversation writes the participant index on both paths: a
// creator that failed after its insert was applied leaves the index to the
// next caller.
func findOrCreateConversation(ctx context.Context, rows scyllaRows, conv *domain.Conversation) (*domain.Conversation, bool, error) {
	applied, err := rows.insertConversation(ctx, conv)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		found, err := rows.GetConversation(ctx, conv.ID)
		if err != nil {
			return nil, false, err
		}
		if err := rows.indexParticipants(ctx, found); err != nil {
			return nil, false, err
		}
		return found, false, nil
	}

	if err := rows.indexParticipants(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// markReadCursor moves the reader's cursor up to the received count. The
// cursor only moves through a conditional update, so concurrent readers
// clear every message exactly once.
func markReadCursor(ctx context.Context, rows scyllaRows, userID, conversationID uuid.UUID, attempts int) (int, error) {
	for attempt := 0; attempt < attempts; attempt++ {
		received, read, hasCursor, err := rows.readCounts(ctx, userID, conversationID)
		if err != nil {
			return 0, err
		}
		if received <= read {
			return 0, nil
		}
		applied, err := rows.advanceReadCursor(ctx, userID, conversationID, read, hasCursor, received)
		if err != nil {
			return 0, err
		}
		if applied {
			return int(received - read), nil
		}
	}
	return 0, fmt.Errorf("mark read: %w", apperrors.ErrConflict)
}

func unreadFrom(received, read int64) int {
	if received <= read {
		return 0
	}
	return int(received - read)
}

func (s *scyllaConversationStore) insertConversation(ctx context.Context, conv *domain.Conversation) (bool, error) {
	existing := map[string]interface{}{}
	applied, err := s.session.
		Query(`INSERT INTO conversations (id, participant_a, participant_b, created_at, last_message_at, last_message_id, last_message_content) VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			toCQL(conv.ID), toCQL(conv.ParticipantA), toCQL(conv.ParticipantB), conv.CreatedAt, conv.CreatedAt, "", "").
		WithContext(ctx).
		MapScanCAS(existing)
	if err != nil {
		s.log.Error("Failed to create conversation", "error", err)
		return false, err
	}
	return applied, nil
}

func (s *scyllaConversationStore) indexParticipants(ctx context.Context, conv *domain.Conversation) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`, toCQL(conv.ParticipantA), toCQL(conv.ID))
	batch.Query(`INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`, toCQL(conv.ParticipantB), toCQL(conv.ID))
	if err := s.session.ExecuteBatch(batch); err != nil {
		s.log.Error("Failed to index conversation participants", "error", err, "conversation_id", conv.ID)
		return err
	}
	return nil
}

func (s *scyllaConversationStore) GetConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	var (
		id, a, b    gocql.UUID
		createdAt   time.Time
		lastAt      time.Time
		lastID      string
		lastSender  gocql.UUID
		lastContent string
	)
	err := s.session.
		Query(`SELECT id, participant_a, participant_b, created_at, last_message_at, last_message_id, last_message_sender, last_message_content FROM conversations WHERE id = ? LIMIT 1`, toCQL(conversationID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Scan(&id, &a, &b, &createdAt, &lastAt, &lastID, &lastSender, &lastContent)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, apperrors.ErrConversationNotFound
		}
		s.log.Error("Failed to get conversation", "error", err, "conversation_id", conversationID)
		return nil, err
	}

	conv := &domain.Conversation{
		ID:           fromCQL(id),
		ParticipantA: fromCQL(a),
		ParticipantB: fromCQL(b),
		CreatedAt:    createdAt,
		UpdatedAt:    lastAt,
	}
	if lastID != "" {
		conv.LastMessage = &domain.MessageSummary{Content: lastContent, SentAt: lastAt, SenderID: fromCQL(lastSender)}
	}

	unreadA, err := s.unread(ctx, conv.ParticipantA, conv.ID)
	if err != nil {
		return nil, err
	}
	unreadB, err := s.unread(ctx, conv.ParticipantB, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Unread = map[uuid.UUID]int{conv.ParticipantA: unreadA, conv.ParticipantB: unreadB}
	return conv, nil
}

func (s *scyllaConversationStore) unread(ctx context.Context, userID, conversationID uuid.UUID) (int, error) {
	received, read, _, err := s.readCounts(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	return unreadFrom(received, read), nil
}

func (s *scyllaConversationStore) readCounts(ctx context.Context, userID, conversationID uuid.UUID) (received, read int64, hasCursor bool, err error) {
	err = s.session.
		Query(`SELECT received FROM conversation_received WHERE user_id = ? AND conversation_id = ?`, toCQL(userID), toCQL(conversationID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Scan(&received)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		s.log.Error("Failed to read received counter", "error", err)
		return 0, 0, false, err
	}

	err = s.session.
		Query(`SELECT read_count FROM conversation_reads WHERE user_id = ? AND conversation_id = ?`, toCQL(userID), toCQL(conversationID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Scan(&read)
	switch {
	case err == nil:
		return received, read, true, nil
	case errors.Is(err, gocql.ErrNotFound):
		return received, 0, false, nil
	default:
		s.log.Error("Failed to read read cursor", "error", err)
		return 0, 0, false, err
	}
}

func (s *scyllaConversationStore) advanceReadCursor(ctx context.Context, userID, conversationID uuid.UUID, from int64, hasCursor bool, to int64) (bool, error) {
	var query *gocql.Query
	if hasCursor {
		query = s.session.Query(`UPDATE conversation_reads SET read_count = ?, updated_at = ? WHERE user_id = ? AND conversation_id = ? IF read_count = ?`,
			to, s.now().UTC(), toCQL(userID), toCQL(conversationID), from)
	} else {
		query = s.session.Query(`INSERT INTO conversation_reads (user_id, conversation_id, read_count, updated_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			toCQL(userID), toCQL(conversationID), to, s.now().UTC())
	}
	current := map[string]interface{}{}
	applied, err := query.WithContext(ctx).MapScanCAS(current)
	if err != nil {
		s.log.Error("Failed to advance read cursor", "error", err, "conversation_id", conversationID)
		return false, err
	}
	return applied, nil
}

func (s *scyllaConversationStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	iter := s.session.
		Query(`SELECT conversation_id FROM user_conversations WHERE user_id = ?`, toCQL(userID)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()

	var ids []uuid.UUID
	var id gocql.UUID
	for iter.Scan(&id) {
		ids = append(ids, fromCQL(id))
	}
	if err := iter.Close(); err != nil {
		s.log.Error("Failed to list conversations", "error", err)
		return nil, err
	}

	conversations := make([]*domain.Conversation, 0, len(ids))
	for _, convID := range ids {
		conv, err := s.GetConversation(ctx, convID)
		if err != nil {
			if errors.Is(err, apperrors.ErrConversationNotFound) {
				continue
			}
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	sort.Slice(conversations, func(i, j int) bool {
		ai, aj := lastActivity(conversations[i]), lastActivity(conversations[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return conversations[i].ID.String() < conversations[j].ID.String()
	})
	return conversations, nil
}

func (s *scyllaConversationStore) GetMessages(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]*domain.Message, error) {
	page = domain.NormalizePage(page)

	var query *gocql.Query
	if page.Before.IsZero() {
		query = s.session.Query(`SELECT message_id, sender_id, receiver_id, content, created_at FROM messages WHERE conversation_id = ? LIMIT ?`,
			toCQL(conversationID), page.Limit)
	} else {
		query = s.session.Query(`SELECT message_id, sender_id, receiver_id, content, created_at FROM messages WHERE conversation_id = ? AND created_at < ? LIMIT ?`,
			toCQL(conversationID), page.Before, page.Limit)
	}
	iter := query.WithContext(ctx).Consistency(gocql.One).Iter()

	messages := make([]*domain.Message, 0, page.Limit)
	var (
		messageID        string
		sender, receiver gocql.UUID
		content          string
		createdAt        time.Time
	)
	for iter.Scan(&messageID, &sender, &receiver, &content, &createdAt) {
		messages = append(messages, &domain.Message{
			ID:             messageID,
			ConversationID: conversationID,
			SenderID:       fromCQL(sender),
			ReceiverID:     fromCQL(receiver),
			Content:        content,
			CreatedAt:      createdAt,
		})
	}
	if err := iter.Close(); err != nil {
		s.log.Error("Failed to get messages", "error", err)
		return nil, err
	}

	domain.SortMessages(messages)
	return messages, nil
}

// AppendMessage advances the conversation's last_message_at with a
// lightweight transaction so concurrent senders get distinct, increasing
// timestamps.
func (s *scyllaConversationStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, msg *domain.Message) error {
	msg.ConversationID = conversationID

	for attempt := 0; attempt < scyllaAppendAttempts; attempt++ {
		var lastAt time.Time
		err := s.session.
			Query(`SELECT last_message_at FROM conversations WHERE id = ?`, toCQL(conversationID)).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Scan(&lastAt)
		if err != nil {
			if errors.Is(err, gocql.ErrNotFound) {
				return apperrors.ErrConversationNotFound
			}
			s.log.Error("Failed to read conversation clock", "error", err)
			return err
		}

		msg.CreatedAt = domain.NextTimestampWithResolution(lastAt, s.now(), scyllaTimestampResolution)

		current := map[string]interface{}{}
		applied, err := s.session.
			Query(`UPDATE conversations SET last_message_at = ?, last_message_id = ?, last_message_sender = ?, last_message_content = ? WHERE id = ? IF last_message_at = ?`,
				msg.CreatedAt, msg.ID, toCQL(msg.SenderID), msg.Content, toCQL(conversationID), lastAt).
			WithContext(ctx).
			MapScanCAS(current)
		if err != nil {
			s.log.Error("Failed to advance conversation clock", "error", err)
			return err
		}
		if !applied {
			continue
		}

		if err := s.session.
			Query(`INSERT INTO messages (conversation_id, created_at, message_id, sender_id, receiver_id, content) VALUES (?, ?, ?, ?, ?, ?)`,
				toCQL(conversationID), msg.CreatedAt, msg.ID, toCQL(msg.SenderID), toCQL(msg.ReceiverID), msg.Content).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			s.log.Error("Failed to insert message", "error", err)
			return err
		}

		if err := s.session.
			Query(`UPDATE conversation_received SET received = received + 1 WHERE user_id = ? AND conversation_id = ?`,
				toCQL(msg.ReceiverID), toCQL(conversationID)).
			WithContext(ctx).
			Exec(); err != nil {
			s.log.Warn("Failed to increment received counter", "error", err, "conversation_id", conversationID)
		}
		return nil
	}
	return fmt.Errorf("append message: %w", apperrors.ErrConflict)
}

// MarkRead advances the reader's cursor; messages received after the
// counts were read stay unread.
func (s *scyllaConversationStore) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(userID) {
		return 0, apperrors.ErrConversationNotFound
	}
	return markReadCursor(ctx, s, userID, conversationID, scyllaAppendAttempts)
}

func (s *scyllaConversationStore) UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error) {
	received := make(map[gocql.UUID]int64)
	iter := s.session.
		Query(`SELECT conversation_id, received FROM conversation_received WHERE user_id = ?`, toCQL(userID)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	var (
		convID gocql.UUID
		count  int64
	)
	for iter.Scan(&convID, &count) {
		received[convID] = count
	}
	if err := iter.Close(); err != nil {
		s.log.Error("Failed to count received messages", "error", err)
		return 0, err
	}

	read := make(map[gocql.UUID]int64)
	iter = s.session.
		Query(`SELECT conversation_id, read_count FROM conversation_reads WHERE user_id = ?`, toCQL(userID)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	for iter.Scan(&convID, &count) {
		read[convID] = count
	}
	if err := iter.Close(); err != nil {
		s.log.Error("Failed to load read cursors", "error", err)
		return 0, err
	}

	total := 0
	for id, n := range received {
		total += unreadFrom(n, read[id])
	}
	return total, nil
}
