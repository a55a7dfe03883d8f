package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
)

type cursorKey struct {
	user, conversation uuid.UUID
}

// fakeScyllaRows keeps the rows in memory and applies the conditional
// writes the way the cluster does.
type fakeScyllaRows struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	index         map[uuid.UUID][]uuid.UUID
	received      map[cursorKey]int64
	cursors       map[cursorKey]int64

	indexFailures int
	// readBarrier, when set, holds every readCounts call until it is closed.
	readBarrier chan struct{}
	reads       chan struct{}
}

func newFakeScyllaRows() *fakeScyllaRows {
	return &fakeScyllaRows{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		index:         make(map[uuid.UUID][]uuid.UUID),
		received:      make(map[cursorKey]int64),
		cursors:       make(map[cursorKey]int64),
	}
}

func (f *fakeScyllaRows) GetConversation(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return nil, apperrors.ErrConversationNotFound
	}
	copied := *conv
	return &copied, nil
}

func (f *fakeScyllaRows) insertConversation(_ context.Context, conv *domain.Conversation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversations[conv.ID]; ok {
		return false, nil
	}
	copied := *conv
	f.conversations[conv.ID] = &copied
	return true, nil
}

func (f *fakeScyllaRows) indexParticipants(_ context.Context, conv *domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexFailures > 0 {
		f.indexFailures--
		return errors.New("batch timed out")
	}
	for _, user := range []uuid.UUID{conv.ParticipantA, conv.ParticipantB} {
		if !containsID(f.index[user], conv.ID) {
			f.index[user] = append(f.index[user], conv.ID)
		}
	}
	return nil
}

func (f *fakeScyllaRows) readCounts(_ context.Context, userID, conversationID uuid.UUID) (int64, int64, bool, error) {
	if f.reads != nil {
		f.reads <- struct{}{}
	}
	if f.readBarrier != nil {
		<-f.readBarrier
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cursorKey{userID, conversationID}
	read, ok := f.cursors[key]
	return f.received[key], read, ok, nil
}

func (f *fakeScyllaRows) advanceReadCursor(_ context.Context, userID, conversationID uuid.UUID, from int64, hasCursor bool, to int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cursorKey{userID, conversationID}
	current, ok := f.cursors[key]
	if ok != hasCursor || (ok && current != from) {
		return false, nil
	}
	f.cursors[key] = to
	return true, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestScyllaFindOrCreateRepairsParticipantIndex(t *testing.T) {
	rows := newFakeScyllaRows()
	rows.indexFailures = 1
	a, b := uuid.New(), uuid.New()
	ctx := context.Background()

	if _, _, err := findOrCreateConversation(ctx, rows, domain.NewConversation(a, b, time.Now())); err == nil {
		t.Fatalf("expected the failed index write to surface")
	}
	if len(rows.index[a]) != 0 {
		t.Fatalf("index must be empty after the failed write")
	}

	conv, created, err := findOrCreateConversation(ctx, rows, domain.NewConversation(b, a, time.Now()))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if created {
		t.Fatalf("conversation already exists")
	}
	for _, user := range []uuid.UUID{a, b} {
		if !containsID(rows.index[user], conv.ID) {
			t.Fatalf("conversation missing from the index of %v", user)
		}
	}
}

func TestScyllaConcurrentMarkReadClearsOnce(t *testing.T) {
	rows := newFakeScyllaRows()
	user, conv := uuid.New(), uuid.New()
	key := cursorKey{user, conv}
	rows.received[key] = 3
	rows.readBarrier = make(chan struct{})
	rows.reads = make(chan struct{}, 8)
	ctx := context.Background()

	results := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			cleared, err := markReadCursor(ctx, rows, user, conv, 4)
			if err != nil {
				t.Errorf("mark read: %v", err)
			}
			results <- cleared
		}()
	}
	// both readers observe 3 unread before either writes
	<-rows.reads
	<-rows.reads
	close(rows.readBarrier)

	total := <-results + <-results
	if total != 3 {
		t.Fatalf("expected 3 cleared in total, got %d", total)
	}
	if rows.cursors[key] != 3 {
		t.Fatalf("expected cursor at 3, got %d", rows.cursors[key])
	}

	// messages received after the read stay unread
	rows.mu.Lock()
	rows.received[key] += 2
	rows.mu.Unlock()
	received, read, _, _ := rows.readCounts(ctx, user, conv)
	if got := unreadFrom(received, read); got != 2 {
		t.Fatalf("expected 2 unread after new messages, got %d", got)
	}
	if cleared, err := markReadCursor(ctx, rows, user, conv, 4); err != nil || cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d (%v)", cleared, err)
	}
}

func TestUnreadFromNeverNegative(t *testing.T) {
	if got := unreadFrom(2, 5); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := unreadFrom(5, 2); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}
