package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"chapterwise/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(sqlitePrefix+filepath.Join(t.TempDir(), "store.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProgressUpsertIsPerUserAndBook(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetProgress(ctx, "u1", "b1"); err != nil || ok {
		t.Fatalf("expected no progress, got ok=%v err=%v", ok, err)
	}
	first, err := s.UpsertProgress(ctx, "u1", domain.Progress{BookID: "b1", CurrentChapter: 3, TotalChapters: 10})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := s.UpsertProgress(ctx, "u1", domain.Progress{BookID: "b1", CurrentChapter: 4, TotalChapters: 10})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if second.CurrentChapter != 4 || second.ProgressPercentage != 40 {
		t.Fatalf("second = %+v", second)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Fatalf("updated_at went backwards")
	}
	if _, err := s.UpsertProgress(ctx, "u2", domain.Progress{BookID: "b1", CurrentChapter: 1, TotalChapters: 10}); err != nil {
		t.Fatalf("upsert other user: %v", err)
	}
	list, err := s.ListProgress(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %+v, %v", list, err)
	}

	deleted, err := s.DeleteProgress(ctx, "u1", "b1")
	if err != nil || !deleted {
		t.Fatalf("delete = %v, %v", deleted, err)
	}
	if deleted, _ := s.DeleteProgress(ctx, "u1", "b1"); deleted {
		t.Fatalf("second delete should report nothing removed")
	}
}

func TestQuestionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"q2", "q1"} {
		q := domain.Question{
			ID:           id,
			UserID:       "u1",
			BookID:       "b1",
			Text:         "question " + id,
			ChapterLimit: 2,
			Status:       domain.StatusPending,
			CreatedAt:    base.Add(time.Duration(1-i) * time.Minute),
			UpdatedAt:    base,
		}
		if err := s.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	list, err := s.ListQuestions(ctx, "u1", "b1")
	if err != nil || len(list) != 2 || list[0].ID != "q1" {
		t.Fatalf("list = %+v, %v", list, err)
	}

	sources := []domain.Source{{Chapter: 1, Name: "Arrival"}, {Chapter: 2}}
	if err := s.SetAnswer(ctx, "q1", Answer{Status: domain.StatusAnswered, AnswerText: "Yes.", Sources: sources}); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	got, ok, err := s.GetQuestion(ctx, "q1")
	if err != nil || !ok {
		t.Fatalf("get = %v, %v", ok, err)
	}
	want := domain.Question{
		ID: "q1", UserID: "u1", BookID: "b1", Text: "question q1", ChapterLimit: 2,
		Status: domain.StatusAnswered, AnswerText: "Yes.", Sources: sources,
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(domain.Question{}, "CreatedAt", "UpdatedAt")); diff != "" {
		t.Fatalf("question mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetAnswer(ctx, "missing", Answer{Status: domain.StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if deleted, _ := s.DeleteQuestion(ctx, "someone-else", "q1"); deleted {
		t.Fatalf("other users must not delete")
	}
	if deleted, err := s.DeleteQuestion(ctx, "u1", "q1"); err != nil || !deleted {
		t.Fatalf("delete = %v, %v", deleted, err)
	}
}

func TestChaptersBoundedByOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		if _, err := s.SaveChapter(ctx, domain.Chapter{BookID: "b1", Order: i, Name: "ch", Content: "text"}); err != nil {
			t.Fatalf("save chapter %d: %v", i, err)
		}
	}
	renamed, err := s.SaveChapter(ctx, domain.Chapter{BookID: "b1", Order: 2, Name: "Second", Content: "new"})
	if err != nil || renamed.Name != "Second" {
		t.Fatalf("resave = %+v, %v", renamed, err)
	}
	n, err := s.ChapterCount(ctx, "b1")
	if err != nil || n != 4 {
		t.Fatalf("count = %d, %v", n, err)
	}
	chapters, err := s.ListChapters(ctx, "b1", 2)
	if err != nil {
		t.Fatalf("list chapters: %v", err)
	}
	if len(chapters) != 2 || chapters[1].Order != 2 || chapters[1].Content != "new" {
		t.Fatalf("chapters = %+v", chapters)
	}
}
