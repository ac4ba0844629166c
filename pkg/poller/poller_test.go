package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"chapterwise/pkg/conversation"
	"chapterwise/pkg/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptFetcher replays responses in order and repeats the last one.
type scriptFetcher struct {
	mu    sync.Mutex
	steps []func() (domain.Question, error)
	calls int
}

func (f *scriptFetcher) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	idx := f.calls - 1
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	return f.steps[idx]()
}

func (f *scriptFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pending(id string) func() (domain.Question, error) {
	return func() (domain.Question, error) {
		return domain.Question{ID: id, Status: domain.StatusPending}, nil
	}
}

func newManager(id string) *conversation.Manager {
	m := conversation.NewManager(conversation.Config{BookID: "book-1"})
	m.Append(conversation.Entry{
		ID:       conversation.PersistedID(id),
		Question: domain.Question{ID: id, Text: "What happened so far?", ChapterLimit: 5, Status: domain.StatusPending},
	})
	return m
}

func newEngine(t *testing.T, f Fetcher, max int) *Engine {
	t.Helper()
	e, err := NewEngine(Config{Fetcher: f, Interval: time.Millisecond, MaxAttempts: max, Budget: time.Minute})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestRunMergesAnswer(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){
		pending("q-1"),
		pending("q-1"),
		func() (domain.Question, error) {
			return domain.Question{ID: "q-1", Status: domain.StatusAnswered, AnswerText: "A lot."}, nil
		},
	}}
	m := newManager("q-1")
	res := newEngine(t, f, 60).Run(context.Background(), "q-1", m)

	if res.Outcome != OutcomeAnswered || res.Attempts != 3 {
		t.Fatalf("result = %+v", res)
	}
	e, _ := m.Get(conversation.PersistedID("q-1"))
	if e.Question.AnswerText != "A lot." || e.Question.Status != domain.StatusAnswered {
		t.Fatalf("entry = %+v", e.Question)
	}
}

func TestAnswerTextSettlesEvenWhileStatusPending(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){
		func() (domain.Question, error) {
			return domain.Question{ID: "q-1", Status: domain.StatusPending, AnswerText: "early"}, nil
		},
	}}
	res := newEngine(t, f, 60).Run(context.Background(), "q-1", newManager("q-1"))
	if res.Outcome != OutcomeAnswered || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestBackendFailureIsGenerationFailed(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){
		func() (domain.Question, error) {
			return domain.Question{ID: "q-1", Status: domain.StatusFailed}, nil
		},
	}}
	m := newManager("q-1")
	res := newEngine(t, f, 60).Run(context.Background(), "q-1", m)
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	e, _ := m.Get(conversation.PersistedID("q-1"))
	if e.Question.FailureReason != domain.FailureGeneration {
		t.Fatalf("reason = %q", e.Question.FailureReason)
	}
}

func TestExhaustionMarksTimeoutWithoutExtraRequest(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){pending("q-1")}}
	m := newManager("q-1")
	res := newEngine(t, f, 60).Run(context.Background(), "q-1", m)

	if res.Outcome != OutcomeTimedOut || res.Attempts != 60 {
		t.Fatalf("result = %+v", res)
	}
	if f.Calls() != 60 {
		t.Fatalf("fetch calls = %d, want 60", f.Calls())
	}
	e, _ := m.Get(conversation.PersistedID("q-1"))
	if e.Question.Status != domain.StatusFailed || e.Question.FailureReason != domain.FailureTimeout {
		t.Fatalf("entry = %+v", e.Question)
	}
	if e.Message() != domain.FailureTimeout.Message() {
		t.Fatalf("message = %q", e.Message())
	}
}

func TestFetchErrorsCountAsAttempts(t *testing.T) {
	boom := errors.New("network down")
	f := &scriptFetcher{steps: []func() (domain.Question, error){
		func() (domain.Question, error) { return domain.Question{}, boom },
	}}
	res := newEngine(t, f, 5).Run(context.Background(), "q-1", newManager("q-1"))
	if res.Outcome != OutcomeTimedOut || res.Attempts != 5 || !errors.Is(res.LastErr, boom) {
		t.Fatalf("result = %+v", res)
	}
}

func TestFetchErrorThenAnswer(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){
		func() (domain.Question, error) { return domain.Question{}, errors.New("blip") },
		func() (domain.Question, error) {
			return domain.Question{ID: "q-1", Status: domain.StatusAnswered, AnswerText: "ok"}, nil
		},
	}}
	res := newEngine(t, f, 60).Run(context.Background(), "q-1", newManager("q-1"))
	if res.Outcome != OutcomeAnswered || res.Attempts != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCancelStopsWithoutTouchingSink(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){pending("q-1")}}
	e, err := NewEngine(Config{Fetcher: f, Interval: time.Hour, MaxAttempts: 60})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	m := newManager("q-1")
	h := e.Start(context.Background(), "q-1", m)

	deadline := time.Now().Add(time.Second)
	for f.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Cancel()
	res := h.Wait()
	if res.Outcome != OutcomeCanceled || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
	entry, _ := m.Get(conversation.PersistedID("q-1"))
	if entry.Question.Status != domain.StatusPending {
		t.Fatalf("canceled poll changed entry: %+v", entry.Question)
	}
}

func TestIndependentLoopsDoNotBlockEachOther(t *testing.T) {
	fast := &scriptFetcher{steps: []func() (domain.Question, error){
		func() (domain.Question, error) {
			return domain.Question{ID: "fast", Status: domain.StatusAnswered, AnswerText: "done"}, nil
		},
	}}
	slow := &scriptFetcher{steps: []func() (domain.Question, error){pending("slow")}}

	m := conversation.NewManager(conversation.Config{BookID: "book-1"})
	m.Append(conversation.Entry{ID: conversation.PersistedID("fast"), Question: domain.Question{ID: "fast", Status: domain.StatusPending}})
	m.Append(conversation.Entry{ID: conversation.PersistedID("slow"), Question: domain.Question{ID: "slow", Status: domain.StatusPending}})

	slowEngine, _ := NewEngine(Config{Fetcher: slow, Interval: time.Hour})
	hs := slowEngine.Start(context.Background(), "slow", m)
	defer func() {
		hs.Cancel()
		hs.Wait()
	}()

	hf := newEngine(t, fast, 60).Start(context.Background(), "fast", m)
	select {
	case <-hf.Done():
	case <-time.After(time.Second):
		t.Fatalf("fast loop blocked by slow loop")
	}
	if res := hf.Wait(); res.Outcome != OutcomeAnswered {
		t.Fatalf("fast result = %+v", res)
	}
}

func TestClosedSinkIsIgnored(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){pending("q-1")}}
	m := newManager("q-1")
	m.Close()
	res := newEngine(t, f, 3).Run(context.Background(), "q-1", m)
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	e, _ := m.Get(conversation.PersistedID("q-1"))
	if e.Question.Status != domain.StatusPending {
		t.Fatalf("closed manager was mutated: %+v", e.Question)
	}
}

// hangingFetcher blocks until the request context ends.
type hangingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *hangingFetcher) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	<-ctx.Done()
	return domain.Question{}, ctx.Err()
}

func TestHungFetchStopsAtOverallBudget(t *testing.T) {
	f := &hangingFetcher{}
	e, err := NewEngine(Config{
		Fetcher:      f,
		Interval:     time.Millisecond,
		MaxAttempts:  5,
		FetchTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	m := newManager("q-1")

	start := time.Now()
	res := e.Run(context.Background(), "q-1", m)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run took %s, budget is 5ms", elapsed)
	}
	if res.Outcome != OutcomeTimedOut || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
	entry, _ := m.Get(conversation.PersistedID("q-1"))
	if entry.Question.FailureReason != domain.FailureTimeout {
		t.Fatalf("entry = %+v", entry.Question)
	}
}

func TestBudgetDefaultsToAttemptsTimesInterval(t *testing.T) {
	e, err := NewEngine(Config{Fetcher: &hangingFetcher{}, Interval: 2 * time.Second, MaxAttempts: 30})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if e.budget != time.Minute {
		t.Fatalf("budget = %s, want 1m", e.budget)
	}
}

var (
	errRejected = errors.New("credential rejected")
	errGone     = errors.New("question gone")
)

func classifyingEngine(t *testing.T, f Fetcher) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Fetcher:      f,
		Interval:     time.Millisecond,
		MaxAttempts:  60,
		Budget:       time.Minute,
		AuthRequired: func(err error) bool { return errors.Is(err, errRejected) },
		NotFound:     func(err error) bool { return errors.Is(err, errGone) },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestAuthRequiredStopsWithoutTimeoutMark(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){
		pending("q-1"),
		func() (domain.Question, error) { return domain.Question{}, fmt.Errorf("get question: %w", errRejected) },
	}}
	m := newManager("q-1")
	res := classifyingEngine(t, f).Run(context.Background(), "q-1", m)

	if res.Outcome != OutcomeAuthRequired || res.Attempts != 2 || !errors.Is(res.LastErr, errRejected) {
		t.Fatalf("result = %+v", res)
	}
	if f.Calls() != 2 {
		t.Fatalf("fetch calls = %d, want 2", f.Calls())
	}
	entry, _ := m.Get(conversation.PersistedID("q-1"))
	if entry.Question.Status != domain.StatusPending || entry.Question.FailureReason != domain.FailureNone {
		t.Fatalf("entry = %+v", entry.Question)
	}
}

func TestNotFoundRemovesEntry(t *testing.T) {
	f := &scriptFetcher{steps: []func() (domain.Question, error){
		func() (domain.Question, error) { return domain.Question{}, errGone },
	}}
	m := newManager("q-1")
	res := classifyingEngine(t, f).Run(context.Background(), "q-1", m)

	if res.Outcome != OutcomeNotFound || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := m.Get(conversation.PersistedID("q-1")); ok {
		t.Fatalf("deleted question still in conversation")
	}
}
