// Package app turns queued generation jobs into stored answers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chapterwise/pkg/ai"
	"chapterwise/pkg/domain"
	"chapterwise/pkg/queue"
	"chapterwise/pkg/store"
)

type Config struct {
	Store         store.Store
	Generator     ai.TextGenerator
	Logger        *slog.Logger
	ContextBudget int
}

// Worker answers one question per job, reading only chapters up to the
// question's limit.
type Worker struct {
	store     store.Store
	generator ai.TextGenerator
	logger    *slog.Logger
	budget    int
}

func New(cfg Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator required")
	}
	w := &Worker{store: cfg.Store, generator: cfg.Generator, logger: cfg.Logger, budget: cfg.ContextBudget}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.budget <= 0 {
		w.budget = ai.DefaultContextBudget
	}
	return w, nil
}

// Handle is a queue.Handler. Returned errors are retried by the queue;
// permanent failures are written to the question and swallowed.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	logger := w.logger.With("job_id", job.ID, "question_id", job.QuestionID)
	q, ok, err := w.store.GetQuestion(ctx, job.QuestionID)
	if err != nil {
		return fmt.Errorf("load question: %w", err)
	}
	if !ok {
		logger.Warn("question deleted before generation")
		return nil
	}
	if q.Status.Terminal() {
		logger.Info("question already settled", "status", q.Status)
		return nil
	}

	chapters, err := w.store.ListChapters(ctx, q.BookID, q.ChapterLimit)
	if err != nil {
		return fmt.Errorf("load chapters: %w", err)
	}
	prompt, err := ai.BuildPrompt(q.Text, q.ChapterLimit, chapters, w.budget)
	if err != nil {
		return w.fail(ctx, q.ID, err)
	}
	text, err := w.generator.GenerateText(ctx, prompt.System, prompt.User)
	if err != nil {
		var apiErr *ai.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return w.fail(ctx, q.ID, err)
		}
		return fmt.Errorf("generate: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("generate: empty answer")
	}
	if err := w.store.SetAnswer(ctx, q.ID, store.Answer{
		Status:     domain.StatusAnswered,
		AnswerText: text,
		Sources:    prompt.Sources,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("store answer: %w", err)
	}
	logger.Info("answer stored", "chapter_limit", q.ChapterLimit, "sources", len(prompt.Sources))
	return nil
}

// OnFailed marks the question failed once the queue gives up on its job.
func (w *Worker) OnFailed(ctx context.Context, job queue.Job, cause error) {
	if err := w.markFailed(ctx, job.QuestionID, cause); err != nil {
		w.logger.Error("mark question failed", "question_id", job.QuestionID, "err", err)
	}
}

func (w *Worker) fail(ctx context.Context, questionID string, cause error) error {
	w.logger.Warn("generation failed permanently", "question_id", questionID, "err", cause)
	if err := w.markFailed(ctx, questionID, cause); err != nil {
		return err
	}
	return nil
}

func (w *Worker) markFailed(ctx context.Context, questionID string, cause error) error {
	err := w.store.SetAnswer(ctx, questionID, store.Answer{
		Status:        domain.StatusFailed,
		FailureReason: domain.FailureGeneration,
		ErrorMessage:  domain.FailureGeneration.Message(),
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("mark failed after %v: %w", cause, err)
	}
	return nil
}
