package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
)

func TestMemoryNotificationLifecycle(t *testing.T) {
	repo := NewMemoryNotificationRepository()
	ctx := context.Background()
	user := uuid.New()

	first := &domain.Notification{ID: uuid.New(), UserID: user, Kind: domain.NotificationKindGrading, Title: "Marks published", CreatedAt: time.Now()}
	second := &domain.Notification{ID: uuid.New(), UserID: user, Kind: domain.NotificationKindSubmission, Title: "Submission reviewed", CreatedAt: time.Now().Add(time.Second)}
	_ = repo.Create(ctx, first)
	_ = repo.Create(ctx, second)
	_ = repo.Create(ctx, first)

	if n, _ := repo.UnreadCount(ctx, user); n != 2 {
		t.Fatalf("expected 2 unread, got %d", n)
	}

	list, _ := repo.ListByUser(ctx, user, 10)
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest first")
	}

	changed, err := repo.MarkRead(ctx, first.ID, user)
	if err != nil || !changed {
		t.Fatalf("expected first mark-read to change state: %v", err)
	}
	changed, err = repo.MarkRead(ctx, first.ID, user)
	if err != nil || changed {
		t.Fatalf("expected second mark-read to be a no-op: %v", err)
	}

	cleared, _ := repo.MarkAllRead(ctx, user)
	if cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}
	if n, _ := repo.UnreadCount(ctx, user); n != 0 {
		t.Fatalf("expected 0 unread, got %d", n)
	}
}

func TestMemoryRateLimitWindow(t *testing.T) {
	repo := NewMemoryRateLimitRepository().(*memoryRateLimitRepository)
	now := time.Now()
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.Increment(ctx, "k", time.Minute); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if ok, _ := repo.CheckLimit(ctx, "k", 3, time.Minute); ok {
		t.Fatalf("expected limit reached")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := repo.CheckLimit(ctx, "k", 3, time.Minute); !ok {
		t.Fatalf("expected window to expire")
	}
}
