package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"mathquest-live/internal/domain"
)

func TestPracticeStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewPracticeStore()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	session := &domain.PracticeSession{SessionID: "p1", UserID: "u1", ExpiresAt: now.Add(time.Hour)}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Get(ctx, "p1"); err != nil {
		t.Fatalf("get: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Get(ctx, "p1"); !errors.Is(err, domain.ErrPracticeNotFound) {
		t.Fatalf("expected expired session to be hidden, got %v", err)
	}
	if n := store.Sweep(now); n != 1 {
		t.Fatalf("expected one swept session, got %d", n)
	}
}

func TestResultStoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()
	ended := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := domain.GameResult{SessionID: "s1", AccessCode: "123456", ParticipantCount: 2, EndedAt: ended}
	_ = store.SaveGameResult(ctx, first)
	_ = store.SaveGameResult(ctx, domain.GameResult{SessionID: "s1", AccessCode: "123456", ParticipantCount: 9, EndedAt: ended})

	if store.GameResultCount() != 1 {
		t.Fatalf("expected a single record, got %d", store.GameResultCount())
	}
	got, err := store.GetGameResult(ctx, "123456")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if got.ParticipantCount != 2 {
		t.Fatalf("expected the first write to win, got %+v", got)
	}
}

func TestResultStoreSeparatesReplays(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()
	ended := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = store.SaveGameResult(ctx, domain.GameResult{SessionID: "live", AccessCode: "123456", ParticipantCount: 30, EndedAt: ended})
	_ = store.SaveGameResult(ctx, domain.GameResult{SessionID: "r1", AccessCode: "123456", ParticipantCount: 1, EndedAt: ended.Add(time.Hour), Deferred: true})
	_ = store.SaveGameResult(ctx, domain.GameResult{SessionID: "r2", AccessCode: "123456", ParticipantCount: 1, EndedAt: ended.Add(2 * time.Hour), Deferred: true})

	got, err := store.GetGameResult(ctx, "123456")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if got.SessionID != "live" {
		t.Fatalf("expected the live result, got %s", got.SessionID)
	}
	replays, err := store.ListDeferredResults(ctx, "123456")
	if err != nil {
		t.Fatalf("list replays: %v", err)
	}
	if len(replays) != 2 || replays[0].SessionID != "r2" || replays[1].SessionID != "r1" {
		t.Fatalf("expected replays newest first, got %+v", replays)
	}
	if none, _ := store.ListDeferredResults(ctx, "654321"); none == nil || len(none) != 0 {
		t.Fatalf("expected an empty list for an unknown code")
	}
}
