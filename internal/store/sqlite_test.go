package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mihretab/portfolio/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestVisitorLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestStore(t)

	got, err := repo.GetVisitor(ctx, "anon_missing")
	if err != nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected nil for unknown visitor, got %+v", got)
	}

	now := time.Now()
	if err := repo.UpsertVisitor(ctx, &domain.Visitor{
		VisitorID: "anon_1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}

	if err := repo.MarkEngaged(ctx, "anon_1"); err != nil {
		t.Fatalf("MarkEngaged failed: %v", err)
	}

	// A later upsert must not clear the engaged flag.
	if err := repo.UpsertVisitor(ctx, &domain.Visitor{
		VisitorID: "anon_1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}

	got, err = repo.GetVisitor(ctx, "anon_1")
	if err != nil || got == nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if !got.Engaged {
		t.Error("Expected visitor to stay engaged")
	}

	if err := repo.MarkEngaged(ctx, "anon_missing"); err == nil {
		t.Error("Expected error marking unknown visitor")
	}
}

func TestRecordConversationUpserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestStore(t)

	created := time.Now().Add(-time.Minute)
	rec := &domain.ConversationRecord{
		ConversationID:   "conv-1",
		VisitorID:        "anon_1",
		SessionID:        "tab-1",
		Phase:            "ask_name",
		SubmissionStatus: "none",
		MessageCount:     1,
		CreatedAt:        created,
	}
	if err := repo.RecordConversation(ctx, rec); err != nil {
		t.Fatalf("RecordConversation failed: %v", err)
	}

	rec.Phase = "completed"
	rec.SubmissionStatus = "success"
	rec.MessageCount = 11
	if err := repo.RecordConversation(ctx, rec); err != nil {
		t.Fatalf("RecordConversation update failed: %v", err)
	}

	got, err := repo.GetConversation(ctx, "conv-1")
	if err != nil || got == nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Phase != "completed" || got.SubmissionStatus != "success" || got.MessageCount != 11 {
		t.Errorf("Unexpected record: %+v", got)
	}
	if got.CreatedAt.Unix() != created.Unix() {
		t.Errorf("CreatedAt changed on update: %v vs %v", got.CreatedAt, created)
	}
}

func TestConversationStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestStore(t)
	now := time.Now()

	records := []domain.ConversationRecord{
		{ConversationID: "a", Phase: "ask_name", SubmissionStatus: "none"},
		{ConversationID: "b", Phase: "completed", SubmissionStatus: "success"},
		{ConversationID: "c", Phase: "completed", SubmissionStatus: "error"},
		{ConversationID: "d", Phase: "completed", SubmissionStatus: "success"},
	}
	for i := range records {
		records[i].VisitorID = "anon_1"
		records[i].SessionID = "tab"
		records[i].CreatedAt = now
		if err := repo.RecordConversation(ctx, &records[i]); err != nil {
			t.Fatalf("RecordConversation failed: %v", err)
		}
	}
	if err := repo.UpsertVisitor(ctx, &domain.Visitor{VisitorID: "anon_1", Engaged: true, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}

	stats, err := repo.ConversationStats(ctx)
	if err != nil {
		t.Fatalf("ConversationStats failed: %v", err)
	}
	if stats.TotalConversations != 4 || stats.Completed != 3 || stats.Delivered != 2 || stats.Failed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.EngagedVisitors != 1 {
		t.Errorf("Expected 1 engaged visitor, got %d", stats.EngagedVisitors)
	}
	if stats.ConversationsToday != 4 {
		t.Errorf("Expected 4 conversations today, got %d", stats.ConversationsToday)
	}
}

func TestDeleteConversationsBefore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestStore(t)
	old := time.Now().Add(-400 * 24 * time.Hour)

	for _, rec := range []*domain.ConversationRecord{
		{ConversationID: "old", VisitorID: "v", SessionID: "s", Phase: "completed", SubmissionStatus: "success", CreatedAt: old, UpdatedAt: old},
		{ConversationID: "new", VisitorID: "v", SessionID: "s", Phase: "ask_name", SubmissionStatus: "none", CreatedAt: time.Now()},
	} {
		if err := repo.RecordConversation(ctx, rec); err != nil {
			t.Fatalf("RecordConversation failed: %v", err)
		}
	}

	deleted, err := repo.DeleteConversationsBefore(ctx, time.Now().Add(-365*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteConversationsBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
	if got, _ := repo.GetConversation(ctx, "old"); got != nil {
		t.Error("Expected old conversation to be gone")
	}
	if got, _ := repo.GetConversation(ctx, "new"); got == nil {
		t.Error("Expected new conversation to remain")
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	if err := newTestStore(t).Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
