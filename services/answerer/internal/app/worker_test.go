package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chapterwise/pkg/ai"
	"chapterwise/pkg/domain"
	"chapterwise/pkg/queue"
	"chapterwise/pkg/store"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *fakeGenerator) GenerateText(_ context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, system+"\n"+user)
	return g.reply, g.err
}

func setup(t *testing.T, gen *fakeGenerator) (*Worker, *store.GormStore, domain.Question) {
	t.Helper()
	s, err := store.Open("sqlite://"+filepath.Join(t.TempDir(), "answerer.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	for i, text := range []string{"Ana arrives in town.", "Ana meets Ben.", "Ben is the villain."} {
		if _, err := s.SaveChapter(ctx, domain.Chapter{BookID: "b1", Order: i + 1, Name: "Ch", Content: text}); err != nil {
			t.Fatalf("save chapter: %v", err)
		}
	}
	q := domain.Question{
		ID:           "q-1",
		UserID:       "u1",
		BookID:       "b1",
		Text:         "Who is Ben?",
		ChapterLimit: 2,
		Status:       domain.StatusPending,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.CreateQuestion(ctx, q); err != nil {
		t.Fatalf("create question: %v", err)
	}
	w, err := New(Config{Store: s, Generator: gen})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w, s, q
}

func TestHandleStoresAnswerWithinLimit(t *testing.T) {
	gen := &fakeGenerator{reply: "  Ben is someone Ana has just met.  "}
	w, s, q := setup(t, gen)

	if err := w.Handle(context.Background(), queue.Job{ID: "j", QuestionID: q.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(gen.prompts) != 1 || strings.Contains(gen.prompts[0], "villain") {
		t.Fatalf("prompt leaked later chapters: %q", gen.prompts)
	}
	got, _, err := s.GetQuestion(context.Background(), q.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusAnswered || got.AnswerText != "Ben is someone Ana has just met." {
		t.Fatalf("question = %+v", got)
	}
	want := []domain.Source{{Chapter: 1, Name: "Ch"}, {Chapter: 2, Name: "Ch"}}
	if diff := cmp.Diff(want, got.Sources); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleRetryableErrorIsReturned(t *testing.T) {
	gen := &fakeGenerator{err: &ai.APIError{Provider: "ollama", Status: 503, Message: "busy"}}
	w, s, q := setup(t, gen)

	if err := w.Handle(context.Background(), queue.Job{QuestionID: q.ID}); err == nil {
		t.Fatalf("expected retryable error")
	}
	got, _, _ := s.GetQuestion(context.Background(), q.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestHandlePermanentErrorMarksFailed(t *testing.T) {
	gen := &fakeGenerator{err: &ai.APIError{Provider: "openai", Status: 400, Message: "bad request"}}
	w, s, q := setup(t, gen)

	if err := w.Handle(context.Background(), queue.Job{QuestionID: q.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _, _ := s.GetQuestion(context.Background(), q.ID)
	if got.Status != domain.StatusFailed || got.FailureReason != domain.FailureGeneration {
		t.Fatalf("question = %+v", got)
	}
}

func TestHandleSkipsSettledAndMissing(t *testing.T) {
	gen := &fakeGenerator{reply: "x"}
	w, s, q := setup(t, gen)
	ctx := context.Background()

	if err := s.SetAnswer(ctx, q.ID, store.Answer{Status: domain.StatusAnswered, AnswerText: "done"}); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := w.Handle(ctx, queue.Job{QuestionID: q.ID}); err != nil {
		t.Fatalf("handle settled: %v", err)
	}
	if err := w.Handle(ctx, queue.Job{QuestionID: "gone"}); err != nil {
		t.Fatalf("handle missing: %v", err)
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("generator called %d times", len(gen.prompts))
	}
}

func TestOnFailedMarksQuestion(t *testing.T) {
	w, s, q := setup(t, &fakeGenerator{})
	w.OnFailed(context.Background(), queue.Job{QuestionID: q.ID}, errors.New("timeout"))
	got, _, _ := s.GetQuestion(context.Background(), q.ID)
	if got.Status != domain.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("question = %+v", got)
	}
}
