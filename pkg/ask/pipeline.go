// Package ask submits spoiler-bounded questions and hands them to the poller.
package ask

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"chapterwise/pkg/boundary"
	"chapterwise/pkg/conversation"
	"chapterwise/pkg/domain"
	"chapterwise/pkg/poller"
	"chapterwise/pkg/session"
)

const DefaultMaxLength = 1000

// State is the position of one question in the submit/answer lifecycle.
type State string

const (
	StateDraft            State = "draft"
	StateOptimistic       State = "optimistic_local"
	StateSubmitting       State = "submitting"
	StateSubmitted        State = "submitted"
	StateSubmitFailed     State = "submit_failed"
	StateGenerating       State = "generating"
	StateGenerationFailed State = "generation_failed"
)

// Backend creates questions and kicks off answer generation.
type Backend interface {
	CreateQuestion(ctx context.Context, q domain.NewQuestion) (domain.Question, error)
	TriggerGeneration(ctx context.Context, questionID string) (domain.GenerationJob, error)
}

// ProgressSource returns the last known progress without a network call.
type ProgressSource interface {
	Current(bookID string) domain.Progress
}

// Conversation is the per-book entry store the pipeline mutates.
type Conversation interface {
	poller.Sink
	BookID() string
	Append(e conversation.Entry) bool
	Retarget(localID string, created domain.Question) bool
}

// Poller starts a watch on a created question.
type Poller interface {
	Start(ctx context.Context, questionID string, sink poller.Sink) *poller.Handle
}

type Config struct {
	Backend      Backend
	Progress     ProgressSource
	Conversation Conversation
	Poller       Poller
	Credentials  session.Credentials
	Logger       *slog.Logger
	MaxLength    int
	// OnState observes lifecycle transitions, keyed by the local id.
	OnState func(localID string, s State)
	NewID   func() string
	Now     func() time.Time
}

// Submission describes an accepted question.
type Submission struct {
	LocalID      string
	QuestionID   string
	ChapterLimit int
	State        State
	// Poll is nil when generation could not be triggered.
	Poll *poller.Handle
}

// Pipeline owns every poll loop it starts; Close cancels them.
type Pipeline struct {
	backend   Backend
	progress  ProgressSource
	conv      Conversation
	poller    Poller
	creds     session.Credentials
	logger    *slog.Logger
	maxLength int
	onState   func(string, State)
	newID     func() string
	now       func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closed  bool
	handles map[string]*poller.Handle
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Backend == nil || cfg.Progress == nil || cfg.Conversation == nil || cfg.Poller == nil {
		return nil, errors.New("ask pipeline missing dependency")
	}
	p := &Pipeline{
		backend:   cfg.Backend,
		progress:  cfg.Progress,
		conv:      cfg.Conversation,
		poller:    cfg.Poller,
		creds:     cfg.Credentials,
		logger:    cfg.Logger,
		maxLength: cfg.MaxLength,
		onState:   cfg.OnState,
		newID:     cfg.NewID,
		now:       cfg.Now,
		handles:   make(map[string]*poller.Handle),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("book_id", cfg.Conversation.BookID())
	if p.maxLength <= 0 {
		p.maxLength = DefaultMaxLength
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.baseCtx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// Submit validates text locally, inserts an optimistic entry, creates the
// question bounded by the reader's current chapter, triggers generation and
// starts polling. Validation failures issue no backend calls.
func (p *Pipeline) Submit(ctx context.Context, text string) (Submission, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Submission{}, ErrEmptyQuestion
	}
	if utf8.RuneCountInString(text) > p.maxLength {
		return Submission{}, ErrQuestionTooLong
	}
	if p.creds == nil {
		return Submission{}, ErrUnauthenticated
	}
	if _, ok := p.creds.Token(); !ok {
		return Submission{}, ErrUnauthenticated
	}
	if _, ok := p.creds.UserID(); !ok {
		return Submission{}, ErrUnauthenticated
	}
	bookID := p.conv.BookID()
	limit, err := boundary.Resolve(p.progress.Current(bookID))
	if err != nil {
		return Submission{}, err
	}
	if p.isClosed() {
		return Submission{}, ErrClosed
	}

	localID := p.newID()
	p.transition(localID, StateDraft)
	p.conv.Append(conversation.NewLocalEntry(localID, bookID, text, limit, p.now()))
	p.transition(localID, StateOptimistic)

	p.transition(localID, StateSubmitting)
	created, err := p.backend.CreateQuestion(ctx, domain.NewQuestion{BookID: bookID, Text: text, ChapterLimit: limit})
	if err != nil {
		p.conv.Remove(conversation.LocalID(localID))
		p.transition(localID, StateSubmitFailed)
		p.logger.Warn("question create failed", "err", err)
		return Submission{}, &SubmitError{Stage: StageCreate, Err: err}
	}
	p.conv.Retarget(localID, created)
	p.transition(localID, StateSubmitted)
	sub := Submission{LocalID: localID, QuestionID: created.ID, ChapterLimit: limit, State: StateSubmitted}

	if _, err := p.backend.TriggerGeneration(ctx, created.ID); err != nil {
		p.conv.Update(conversation.PersistedID(created.ID), conversation.FailedPatch(domain.FailureTrigger, p.now()))
		p.transition(localID, StateGenerationFailed)
		p.logger.Warn("answer generation trigger failed", "question_id", created.ID, "err", err)
		sub.State = StateGenerationFailed
		return sub, &SubmitError{Stage: StageTrigger, Err: err}
	}

	handle, err := p.track(created.ID)
	if err != nil {
		return sub, err
	}
	p.transition(localID, StateGenerating)
	p.logger.Info("question submitted", "question_id", created.ID, "chapter_limit", limit)
	sub.State = StateGenerating
	sub.Poll = handle
	return sub, nil
}

// HasPending reports whether any poll loop is still running.
func (p *Pipeline) HasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	return len(p.handles) > 0
}

// Close cancels every poll loop and waits for them to exit.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	handles := make([]*poller.Handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.handles = nil
	p.mu.Unlock()

	p.cancel()
	for _, h := range handles {
		h.Wait()
	}
}

func (p *Pipeline) track(questionID string) (*poller.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	p.pruneLocked()
	h := p.poller.Start(p.baseCtx, questionID, p.conv)
	p.handles[questionID] = h
	return h, nil
}

func (p *Pipeline) pruneLocked() {
	for id, h := range p.handles {
		select {
		case <-h.Done():
			delete(p.handles, id)
		default:
		}
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) transition(localID string, s State) {
	if p.onState != nil {
		p.onState(localID, s)
	}
}
