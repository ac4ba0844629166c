// Package poller watches a submitted question until its answer settles.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chapterwise/pkg/conversation"
	"chapterwise/pkg/domain"
)

const (
	DefaultInterval     = time.Second
	DefaultMaxAttempts  = 60
	DefaultFetchTimeout = 10 * time.Second
)

// Fetcher reads the current state of a question.
type Fetcher interface {
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
}

// Sink receives the outcome. conversation.Manager satisfies it.
type Sink interface {
	Merge(q domain.Question) bool
	Update(id conversation.ID, p conversation.Patch) bool
	Remove(id conversation.ID) bool
}

type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeCanceled Outcome = "canceled"

	// OutcomeAuthRequired leaves the entry pending; the answer can still be
	// read once the reader signs in again.
	OutcomeAuthRequired Outcome = "auth_required"
	// OutcomeNotFound means the question was deleted; its entry is removed.
	OutcomeNotFound     Outcome = "not_found"
)

// Result summarizes one finished poll loop.
type Result struct {
	QuestionID string
	Outcome    Outcome
	Attempts   int
	Question   domain.Question
	// LastErr is the most recent fetch error, if any.
	LastErr error
}

type Config struct {
	Fetcher      Fetcher
	Interval     time.Duration
	MaxAttempts  int
	FetchTimeout time.Duration
	// Budget bounds the whole loop, fetches included. Defaults to
	// MaxAttempts * Interval.
	Budget       time.Duration
	// AuthRequired and NotFound classify fetch errors that end the loop
	// early. Any other error uses up an attempt.
	AuthRequired func(error) bool
	NotFound     func(error) bool
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine runs one independent loop per question; loops share nothing but
// the fetcher.
type Engine struct {
	fetcher      Fetcher
	interval     time.Duration
	maxAttempts  int
	fetchTimeout time.Duration
	budget       time.Duration
	authRequired func(error) bool
	notFound     func(error) bool
	logger       *slog.Logger
	now          func() time.Time
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("poller fetcher required")
	}
	e := &Engine{
		fetcher:      cfg.Fetcher,
		interval:     cfg.Interval,
		maxAttempts:  cfg.MaxAttempts,
		fetchTimeout: cfg.FetchTimeout,
		budget:       cfg.Budget,
		authRequired: cfg.AuthRequired,
		notFound:     cfg.NotFound,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.fetchTimeout <= 0 {
		e.fetchTimeout = DefaultFetchTimeout
	}
	if e.budget <= 0 {
		e.budget = time.Duration(e.maxAttempts) * e.interval
	}
	if e.authRequired == nil {
		e.authRequired = func(error) bool { return false }
	}
	if e.notFound == nil {
		e.notFound = func(error) bool { return false }
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Handle controls a loop started with Start.
type Handle struct {
	questionID string
	cancel     context.CancelFunc
	done       chan struct{}
	result     Result
}

func (h *Handle) QuestionID() string { return h.questionID }

// Cancel stops the loop; the sink is not touched afterwards.
func (h *Handle) Cancel() { h.cancel() }

func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the loop exits and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Start runs the loop in its own goroutine.
func (e *Engine) Start(ctx context.Context, questionID string, sink Sink) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{questionID: questionID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.result = e.Run(ctx, questionID, sink)
	}()
	return h
}

// Run polls synchronously. It fetches at most MaxAttempts times, never
// sleeps after the final attempt and gives up once Budget has elapsed, even
// mid-fetch. Fetch errors use up an attempt unless they mean the credential
// was rejected or the question is gone.
func (e *Engine) Run(ctx context.Context, questionID string, sink Sink) Result {
	logger := e.logger.With("question_id", questionID)
	res := Result{QuestionID: questionID}

	loopCtx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	timer := time.NewTimer(e.interval)
	timer.Stop()
	defer timer.Stop()

	for res.Attempts < e.maxAttempts {
		if loopCtx.Err() != nil {
			break
		}
		res.Attempts++
		q, err := e.fetch(loopCtx, questionID)
		switch {
		case ctx.Err() != nil:
			res.Outcome = OutcomeCanceled
			return res
		case err != nil && e.authRequired(err):
			res.LastErr = err
			res.Outcome = OutcomeAuthRequired
			logger.Warn("answer polling stopped: credential rejected", "attempts", res.Attempts)
			return res
		case err != nil && e.notFound(err):
			res.LastErr = err
			res.Outcome = OutcomeNotFound
			sink.Remove(conversation.PersistedID(questionID))
			logger.Info("question deleted while polling", "attempts", res.Attempts)
			return res
		case err != nil:
			res.LastErr = err
			logger.Debug("poll attempt failed", "attempt", res.Attempts, "err", err)
		case q.Settled():
			if q.ID == "" {
				q.ID = questionID
			}
			res.Question = q
			res.Outcome = OutcomeAnswered
			if q.Status == domain.StatusFailed {
				res.Outcome = OutcomeFailed
			}
			sink.Merge(q)
			logger.Info("answer settled", "outcome", res.Outcome, "attempts", res.Attempts)
			return res
		default:
			logger.Debug("answer pending", "attempt", res.Attempts)
		}
		if res.Attempts == e.maxAttempts {
			break
		}
		timer.Reset(e.interval)
		select {
		case <-loopCtx.Done():
		case <-timer.C:
		}
	}

	if ctx.Err() != nil {
		res.Outcome = OutcomeCanceled
		return res
	}
	res.Outcome = OutcomeTimedOut
	sink.Update(conversation.PersistedID(questionID), conversation.FailedPatch(domain.FailureTimeout, e.now()))
	logger.Warn("answer polling timed out", "attempts", res.Attempts, "last_err", res.LastErr)
	return res
}

func (e *Engine) fetch(ctx context.Context, id string) (domain.Question, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	return e.fetcher.GetQuestion(ctx, id)
}
