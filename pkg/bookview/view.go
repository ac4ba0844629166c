// Package bookview wires progress, conversation, submission and polling for
// one open book.
package bookview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"chapterwise/pkg/apiclient"
	"chapterwise/pkg/ask"
	"chapterwise/pkg/boundary"
	"chapterwise/pkg/conversation"
	"chapterwise/pkg/domain"
	"chapterwise/pkg/poller"
	"chapterwise/pkg/progress"
	"chapterwise/pkg/session"
)

// Backend is the remote surface a view needs. *apiclient.Client satisfies it.
type Backend interface {
	progress.Backend
	conversation.Lister
	ask.Backend
	poller.Fetcher
	ChapterCount(ctx context.Context, bookID string) (int, error)
}

var _ Backend = (*apiclient.Client)(nil)

type Config struct {
	Backend      Backend
	Credentials  session.Credentials
	Logger       *slog.Logger
	PollInterval time.Duration
	MaxAttempts  int
	// PollBudget overrides the overall poll deadline; zero means
	// MaxAttempts * PollInterval.
	PollBudget   time.Duration
	OnChange     func([]conversation.Entry)
}

// View is the state behind one book's ask screen.
type View struct {
	bookID   string
	logger   *slog.Logger
	backend  Backend
	tracker  *progress.Tracker
	conv     *conversation.Manager
	pipeline *ask.Pipeline
	chapters int
}

// Open loads progress, history and the chapter count concurrently. A missing
// chapter count is logged and treated as unknown.
func Open(ctx context.Context, bookID string, cfg Config) (*View, error) {
	if bookID == "" {
		return nil, errors.New("book id required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("backend required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := &View{
		bookID:  bookID,
		logger:  logger.With("book_id", bookID),
		backend: cfg.Backend,
		tracker: progress.NewTracker(cfg.Backend, logger),
		conv: conversation.NewManager(conversation.Config{
			BookID:   bookID,
			Lister:   cfg.Backend,
			Logger:   logger,
			OnChange: cfg.OnChange,
		}),
	}
	engine, err := poller.NewEngine(poller.Config{
		Fetcher:      cfg.Backend,
		Interval:     cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
		Budget:       cfg.PollBudget,
		AuthRequired: isAuthRequired,
		NotFound:     isNotFound,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	v.pipeline, err = ask.NewPipeline(ask.Config{
		Backend:      cfg.Backend,
		Progress:     v.tracker,
		Conversation: v.conv,
		Poller:       engine,
		Credentials:  cfg.Credentials,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := v.tracker.Load(gctx, bookID)
		return err
	})
	g.Go(func() error {
		return v.conv.Load(gctx)
	})
	g.Go(func() error {
		n, err := v.backend.ChapterCount(gctx, bookID)
		if err != nil {
			v.logger.Warn("chapter count unavailable", "err", err)
			return nil
		}
		v.chapters = n
		return nil
	})
	if err := g.Wait(); err != nil {
		v.Close()
		return nil, fmt.Errorf("open book %s: %w", bookID, err)
	}
	return v, nil
}

func (v *View) BookID() string { return v.bookID }

func (v *View) Progress() domain.Progress { return v.tracker.Current(v.bookID) }

// ChapterCount is the number of chapters the server knows about, 0 if unknown.
func (v *View) ChapterCount() int { return v.chapters }

func (v *View) Status() string { return boundary.Status(v.Progress()) }

func (v *View) Notice() string { return boundary.Notice(v.Progress()) }

// SaveProgress stores the reader's position. A zero total falls back to the
// stored total, then to the server's chapter count.
func (v *View) SaveProgress(ctx context.Context, current, total int) (domain.Progress, error) {
	if total == 0 {
		total = v.Progress().TotalChapters
	}
	if total == 0 {
		total = v.chapters
	}
	return v.tracker.Save(ctx, v.bookID, current, total)
}

// Ask submits a question bounded by the saved chapter.
func (v *View) Ask(ctx context.Context, text string) (ask.Submission, error) {
	return v.pipeline.Submit(ctx, text)
}

// Refresh reloads the conversation from the server.
func (v *View) Refresh(ctx context.Context) error { return v.conv.Load(ctx) }

func (v *View) Entries() []conversation.Entry { return v.conv.Snapshot() }

// Delete removes a stored question and drops it from the conversation.
func (v *View) Delete(ctx context.Context, questionID string) error {
	deleter, ok := v.backend.(interface {
		DeleteQuestion(ctx context.Context, id string) error
	})
	if !ok {
		return errors.New("backend cannot delete questions")
	}
	if err := deleter.DeleteQuestion(ctx, questionID); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	v.conv.Remove(conversation.PersistedID(questionID))
	return nil
}

func (v *View) HasPending() bool { return v.pipeline.HasPending() }

// Close stops polling and detaches the conversation; later updates are dropped.
func (v *View) Close() {
	v.conv.Close()
	v.pipeline.Close()
}

func isAuthRequired(err error) bool { return errors.Is(err, apiclient.ErrAuthRequired) }

func isNotFound(err error) bool { return errors.Is(err, apiclient.ErrNotFound) }
