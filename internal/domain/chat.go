package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// conversationNamespace seeds the UUIDv5 conversation ids.
var conversationNamespace = uuid.MustParse("6f1c9a52-3d0b-4c61-9d43-7a2e51b8c0de")

type Conversation struct {
	ID           uuid.UUID         `json:"id"`
	ParticipantA uuid.UUID         `json:"participant_a"`
	ParticipantB uuid.UUID         `json:"participant_b"`
	LastMessage  *MessageSummary   `json:"last_message,omitempty"`
	Unread       map[uuid.UUID]int `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type MessageSummary struct {
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sent_at"`
	SenderID uuid.UUID `json:"sender_id"`
}

// ConversationView is a conversation as seen by one participant.
type ConversationView struct {
	ID          uuid.UUID       `json:"id"`
	Peer        User            `json:"peer"`
	LastMessage *MessageSummary `json:"last_message,omitempty"`
	UnreadCount int             `json:"unread_count"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	ReceiverID     uuid.UUID `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessagePage selects messages strictly older than Before (zero means newest).
type MessagePage struct {
	Limit  int
	Before time.Time
}

// PairKey is order independent: PairKey(a, b) == PairKey(b, a).
func PairKey(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

func ConversationID(a, b uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(conversationNamespace, []byte(PairKey(a, b)))
}

// SortedPair returns the participants in the order used for storage.
func SortedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if strings.Compare(a.String(), b.String()) <= 0 {
		return a, b
	}
	return b, a
}

func NewConversation(a, b uuid.UUID, now time.Time) *Conversation {
	first, second := SortedPair(a, b)
	return &Conversation{
		ID:           ConversationID(a, b),
		ParticipantA: first,
		ParticipantB: second,
		Unread:       map[uuid.UUID]int{first: 0, second: 0},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Peer returns the other participant.
func (c *Conversation) Peer(userID uuid.UUID) uuid.UUID {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

func (c *Conversation) UnreadFor(userID uuid.UUID) int {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userID]
}

// NextTimestamp keeps timestamps strictly increasing within a conversation
// even when the wall clock stalls or steps back.
func NextTimestamp(last, now time.Time) time.Time {
	return NextTimestampWithResolution(last, now, time.Microsecond)
}

// NextTimestampWithResolution is NextTimestamp for stores with a coarser
// clock (Scylla keeps milliseconds).
func NextTimestampWithResolution(last, now time.Time, resolution time.Duration) time.Time {
	now = now.UTC().Truncate(resolution)
	if !last.IsZero() && !now.After(last) {
		return last.UTC().Truncate(resolution).Add(resolution)
	}
	return now
}

// Before orders messages by timestamp, then by id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}

func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{Content: m.Content, SentAt: m.CreatedAt, SenderID: m.SenderID}
}
