package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/tinker/pkg/models"
)

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

func TestStoreCreateGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session := &models.Session{
			Title:     "refactor loop",
			Workspace: "/tmp/project",
			Metadata:  map[string]any{"model": "claude-sonnet-4-20250514"},
		}
		if err := store.Create(ctx, session); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if session.ID == "" {
			t.Fatal("expected generated ID")
		}
		if session.CreatedAt.IsZero() {
			t.Fatal("expected CreatedAt to be set")
		}

		got, err := store.Get(ctx, session.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Title != "refactor loop" || got.Workspace != "/tmp/project" {
			t.Errorf("unexpected session: %+v", got)
		}
		if got.Metadata["model"] != "claude-sonnet-4-20250514" {
			t.Errorf("metadata not preserved: %v", got.Metadata)
		}
	})
}

func TestStoreGetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoreUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session := &models.Session{Title: "before"}
		if err := store.Create(ctx, session); err != nil {
			t.Fatalf("Create: %v", err)
		}

		session.Title = "after"
		if err := store.Update(ctx, session); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := store.Get(ctx, session.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Title != "after" {
			t.Errorf("title = %q, want %q", got.Title, "after")
		}
		if got.UpdatedAt.Before(got.CreatedAt) {
			t.Error("UpdatedAt should not precede CreatedAt")
		}

		if err := store.Update(ctx, &models.Session{ID: "missing"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound updating missing session, got %v", err)
		}
	})
}

func TestStoreDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session := &models.Session{}
		if err := store.Create(ctx, session); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := store.Delete(ctx, session.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Get(ctx, session.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := store.Delete(ctx, session.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on double delete, got %v", err)
		}
	})
}

func TestStoreListPagination(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			if err := store.Create(ctx, &models.Session{}); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		all, err := store.List(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("len(all) = %d, want 5", len(all))
		}

		page, err := store.List(ctx, ListOptions{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("List paginated: %v", err)
		}
		if len(page) != 2 {
			t.Errorf("len(page) = %d, want 2", len(page))
		}

		past, err := store.List(ctx, ListOptions{Offset: 10})
		if err != nil {
			t.Fatalf("List past end: %v", err)
		}
		if len(past) != 0 {
			t.Errorf("len(past) = %d, want 0", len(past))
		}
	})
}

func TestStoreAppendAndHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		session := &models.Session{}
		if err := store.Create(ctx, session); err != nil {
			t.Fatalf("Create: %v", err)
		}

		msgs := []models.Message{
			{Role: models.RoleUser, Content: "list the files", Ordinal: 0},
			{
				Role:    models.RoleAssistant,
				Ordinal: 1,
				ToolCalls: []models.ToolCall{{
					ID:    "call-1",
					Name:  "read_file",
					Input: json.RawMessage(`{"path":"main.go"}`),
				}},
			},
			{
				Role:    models.RoleTool,
				Ordinal: 2,
				ToolResults: []models.ToolResult{{
					ToolCallID: "call-1",
					Status:     models.StatusOK,
					Content:    "package main",
				}},
			},
		}
		for i := range msgs {
			if err := store.AppendMessage(ctx, session.ID, &msgs[i]); err != nil {
				t.Fatalf("AppendMessage %d: %v", i, err)
			}
		}

		history, err := store.History(ctx, session.ID, 0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("len(history) = %d, want 3", len(history))
		}
		for i, msg := range history {
			if msg.Ordinal != i {
				t.Errorf("history[%d].Ordinal = %d, want %d", i, msg.Ordinal, i)
			}
		}
		if history[1].ToolCalls[0].Name != "read_file" {
			t.Errorf("tool call not preserved: %+v", history[1].ToolCalls)
		}
		if history[2].ToolResults[0].Status != models.StatusOK {
			t.Errorf("tool result not preserved: %+v", history[2].ToolResults)
		}

		tail, err := store.History(ctx, session.ID, 2)
		if err != nil {
			t.Fatalf("History limit: %v", err)
		}
		if len(tail) != 2 || tail[0].Ordinal != 1 || tail[1].Ordinal != 2 {
			t.Errorf("limited history wrong: %+v", tail)
		}
	})
}

func TestStoreAppendMissingSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		msg := models.Message{Role: models.RoleUser, Content: "hi"}
		err := store.AppendMessage(context.Background(), "missing", &msg)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSinkAppendsToStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	session := &models.Session{}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sink := NewSink(store, session.ID)
	if err := sink.Append(ctx, models.Message{Role: models.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	history, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Content != "hello" {
		t.Errorf("unexpected history: %+v", history)
	}
}
