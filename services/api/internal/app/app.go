// Package app holds the api service's business rules over the store and the
// generation queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"chapterwise/internal/util"
	"chapterwise/pkg/domain"
	"chapterwise/pkg/queue"
	"chapterwise/pkg/storage"
	"chapterwise/pkg/store"
)

// ChapterArchive mirrors chapter text outside the database. *storage.Archive satisfies it.
type ChapterArchive interface {
	SaveChapter(ctx context.Context, ch domain.Chapter) error
}

var _ ChapterArchive = (*storage.Archive)(nil)

// Enqueuer schedules answer generation. *queue.GenerationQueue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, questionID string) (queue.Job, error)
}

type Config struct {
	Store             store.Store
	Queue             Enqueuer
	Archive           ChapterArchive
	Logger            *slog.Logger
	MaxQuestionLength int
}

// App is the core application service.
type App struct {
	store     store.Store
	queue     Enqueuer
	archive   ChapterArchive
	logger    *slog.Logger
	maxLength int
	now       func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("queue required")
	}
	a := &App{
		store:     cfg.Store,
		queue:     cfg.Queue,
		archive:   cfg.Archive,
		logger:    cfg.Logger,
		maxLength: cfg.MaxQuestionLength,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.maxLength <= 0 {
		a.maxLength = 1000
	}
	return a, nil
}

func (a *App) Ready(ctx context.Context) error { return a.store.Ping(ctx) }

func (a *App) ListProgress(ctx context.Context, userID string) ([]domain.Progress, error) {
	return a.store.ListProgress(ctx, userID)
}

// GetProgress returns ErrNotFound when the reader never saved progress.
func (a *App) GetProgress(ctx context.Context, userID, bookID string) (domain.Progress, error) {
	p, ok, err := a.store.GetProgress(ctx, userID, bookID)
	if err != nil {
		return domain.Progress{}, err
	}
	if !ok {
		return domain.Progress{}, ErrNotFound
	}
	return p, nil
}

// SaveProgress upserts after checking 0 <= current <= total.
func (a *App) SaveProgress(ctx context.Context, userID string, u domain.ProgressUpdate) (domain.Progress, error) {
	bookID := strings.TrimSpace(u.BookID)
	if bookID == "" {
		return domain.Progress{}, invalid("title_id", "title_id is required")
	}
	p := domain.Progress{BookID: bookID, CurrentChapter: u.CurrentChapter, TotalChapters: u.TotalChapters}
	if !p.Valid() {
		return domain.Progress{}, invalid("current_chapter", fmt.Sprintf("current_chapter must be between 0 and %d", u.TotalChapters))
	}
	saved, err := a.store.UpsertProgress(ctx, userID, p)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("save progress: %w", err)
	}
	util.LoggerFromContext(ctx).Info("progress saved", "user_id", userID, "book_id", bookID, "current_chapter", saved.CurrentChapter)
	return saved, nil
}

func (a *App) DeleteProgress(ctx context.Context, userID, bookID string) error {
	ok, err := a.store.DeleteProgress(ctx, userID, bookID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// CreateQuestion stores a pending question. The chapter limit must be at
// least 1 and no further than the reader's saved chapter.
func (a *App) CreateQuestion(ctx context.Context, userID string, nq domain.NewQuestion) (domain.Question, error) {
	text := strings.TrimSpace(nq.Text)
	bookID := strings.TrimSpace(nq.BookID)
	switch {
	case bookID == "":
		return domain.Question{}, invalid("title_id", "title_id is required")
	case text == "":
		return domain.Question{}, invalid("question_text", "question_text is required")
	case utf8.RuneCountInString(text) > a.maxLength:
		return domain.Question{}, invalid("question_text", fmt.Sprintf("question_text must be at most %d characters", a.maxLength))
	case nq.ChapterLimit < 1:
		return domain.Question{}, invalid("chapter_limit", "chapter_limit must be at least 1")
	}
	progress, ok, err := a.store.GetProgress(ctx, userID, bookID)
	if err != nil {
		return domain.Question{}, err
	}
	if !ok || progress.CurrentChapter < 1 {
		return domain.Question{}, ErrNoProgress
	}
	if nq.ChapterLimit > progress.CurrentChapter {
		return domain.Question{}, ErrChapterLimit
	}

	now := a.now()
	q := domain.Question{
		ID:           util.NewID(),
		UserID:       userID,
		BookID:       bookID,
		Text:         text,
		ChapterLimit: nq.ChapterLimit,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateQuestion(ctx, q); err != nil {
		return domain.Question{}, fmt.Errorf("create question: %w", err)
	}
	util.LoggerFromContext(ctx).Info("question created", "question_id", q.ID, "book_id", bookID, "chapter_limit", q.ChapterLimit)
	return q, nil
}

// TriggerGeneration queues answer generation. An answered question reports
// done without a new job; a failed one is reset to pending and retried.
func (a *App) TriggerGeneration(ctx context.Context, userID, questionID string) (domain.GenerationJob, error) {
	q, err := a.GetQuestion(ctx, userID, questionID)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	if q.Status == domain.StatusAnswered {
		return domain.GenerationJob{Status: queue.StatusDone}, nil
	}
	if q.Status == domain.StatusFailed {
		if err := a.store.SetAnswer(ctx, q.ID, store.Answer{Status: domain.StatusPending}); err != nil {
			return domain.GenerationJob{}, fmt.Errorf("reset question: %w", err)
		}
	}
	job, err := a.queue.Enqueue(ctx, q.ID)
	if err != nil {
		util.LoggerFromContext(ctx).Error("enqueue generation failed", "question_id", q.ID, "err", err)
		return domain.GenerationJob{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return domain.GenerationJob{JobID: job.ID, Status: job.Status}, nil
}

// GetQuestion hides other readers' questions behind ErrNotFound.
func (a *App) GetQuestion(ctx context.Context, userID, questionID string) (domain.Question, error) {
	q, ok, err := a.store.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	if !ok || q.UserID != userID {
		return domain.Question{}, ErrNotFound
	}
	return q, nil
}

func (a *App) ListQuestions(ctx context.Context, userID, bookID string) ([]domain.Question, error) {
	return a.store.ListQuestions(ctx, userID, bookID)
}

func (a *App) DeleteQuestion(ctx context.Context, userID, questionID string) error {
	ok, err := a.store.DeleteQuestion(ctx, userID, questionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (a *App) ChapterCount(ctx context.Context, bookID string) (int, error) {
	return a.store.ChapterCount(ctx, bookID)
}

// SaveChapter adds or replaces the chapter at (book, order). Archive
// failures are logged; the database copy is authoritative.
func (a *App) SaveChapter(ctx context.Context, ch domain.Chapter) (domain.Chapter, error) {
	ch.BookID = strings.TrimSpace(ch.BookID)
	ch.Name = strings.TrimSpace(ch.Name)
	switch {
	case ch.BookID == "":
		return domain.Chapter{}, invalid("title_id", "title_id is required")
	case ch.Order < 1:
		return domain.Chapter{}, invalid("order", "order must be at least 1")
	case ch.Name == "":
		return domain.Chapter{}, invalid("name", "name is required")
	}
	saved, err := a.store.SaveChapter(ctx, ch)
	if err != nil {
		return domain.Chapter{}, fmt.Errorf("save chapter: %w", err)
	}
	if a.archive != nil {
		if err := a.archive.SaveChapter(ctx, saved); err != nil {
			a.logger.Warn("chapter archive write failed", "book_id", saved.BookID, "order", saved.Order, "err", err)
		}
	}
	return saved, nil
}
