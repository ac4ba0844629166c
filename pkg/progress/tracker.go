// Package progress tracks a reader's chapter position per book.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chapterwise/pkg/domain"
)

// ErrOutOfRange is matched by validation failures from Save.
var ErrOutOfRange = errors.New("chapter out of range")

// ValidationError describes a rejected save; no request was sent.
type ValidationError struct {
	CurrentChapter int
	TotalChapters  int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chapter %d is outside 0..%d", e.CurrentChapter, e.TotalChapters)
}

func (e *ValidationError) Unwrap() error { return ErrOutOfRange }

// Backend is the remote progress store.
type Backend interface {
	GetProgress(ctx context.Context, bookID string) (domain.Progress, bool, error)
	SaveProgress(ctx context.Context, update domain.ProgressUpdate) (domain.Progress, error)
	DeleteProgress(ctx context.Context, bookID string) error
}

// Tracker loads and saves progress and remembers the last known value per
// book so other components read what was just written.
type Tracker struct {
	backend Backend
	logger  *slog.Logger

	mu    sync.RWMutex
	known map[string]domain.Progress
}

func NewTracker(backend Backend, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		backend: backend,
		logger:  logger,
		known:   make(map[string]domain.Progress),
	}
}

// Load fetches progress; a book the reader never started yields {0, 0}.
func (t *Tracker) Load(ctx context.Context, bookID string) (domain.Progress, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.Progress{}, errors.New("book id required")
	}
	p, ok, err := t.backend.GetProgress(ctx, bookID)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("load progress: %w", err)
	}
	if !ok {
		p = domain.Progress{BookID: bookID}
	}
	p = normalize(bookID, p)
	t.remember(p)
	return p, nil
}

// Save validates 0 <= current <= total and upserts the record.
func (t *Tracker) Save(ctx context.Context, bookID string, current, total int) (domain.Progress, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.Progress{}, errors.New("book id required")
	}
	candidate := domain.Progress{BookID: bookID, CurrentChapter: current, TotalChapters: total}
	if !candidate.Valid() {
		return domain.Progress{}, &ValidationError{CurrentChapter: current, TotalChapters: total}
	}
	saved, err := t.backend.SaveProgress(ctx, domain.ProgressUpdate{
		BookID:         bookID,
		CurrentChapter: current,
		TotalChapters:  total,
	})
	if err != nil {
		return domain.Progress{}, fmt.Errorf("save progress: %w", err)
	}
	saved = normalize(bookID, saved)
	t.remember(saved)
	t.logger.Info("progress saved", "book_id", bookID, "current_chapter", saved.CurrentChapter, "total_chapters", saved.TotalChapters)
	return saved, nil
}

// Delete removes the remote record and forgets the cached value.
func (t *Tracker) Delete(ctx context.Context, bookID string) error {
	if err := t.backend.DeleteProgress(ctx, bookID); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	t.mu.Lock()
	delete(t.known, bookID)
	t.mu.Unlock()
	return nil
}

// Current returns the last loaded or saved progress without a network call.
func (t *Tracker) Current(bookID string) domain.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.known[bookID]; ok {
		return p
	}
	return domain.Progress{BookID: bookID}
}

func (t *Tracker) remember(p domain.Progress) {
	t.mu.Lock()
	t.known[p.BookID] = p
	t.mu.Unlock()
}

func normalize(bookID string, p domain.Progress) domain.Progress {
	if p.BookID == "" {
		p.BookID = bookID
	}
	p.ProgressPercentage = p.Percentage()
	return p
}
