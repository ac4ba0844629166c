// Package store persists reading progress, questions and chapter text.
package store

import (
	"context"
	"errors"

	"chapterwise/pkg/domain"
)

var ErrNotFound = errors.New("record not found")

// Answer is what the answer worker writes back onto a question.
type Answer struct {
	Status        domain.QuestionStatus
	AnswerText    string
	FailureReason domain.FailureReason
	ErrorMessage  string
	Sources       []domain.Source
}

// Store is scoped by user id wherever a record belongs to a reader.
type Store interface {
	GetProgress(ctx context.Context, userID, bookID string) (domain.Progress, bool, error)
	ListProgress(ctx context.Context, userID string) ([]domain.Progress, error)
	UpsertProgress(ctx context.Context, userID string, p domain.Progress) (domain.Progress, error)
	DeleteProgress(ctx context.Context, userID, bookID string) (bool, error)

	CreateQuestion(ctx context.Context, q domain.Question) error
	GetQuestion(ctx context.Context, id string) (domain.Question, bool, error)
	ListQuestions(ctx context.Context, userID, bookID string) ([]domain.Question, error)
	SetAnswer(ctx context.Context, id string, a Answer) error
	DeleteQuestion(ctx context.Context, userID, id string) (bool, error)

	SaveChapter(ctx context.Context, ch domain.Chapter) (domain.Chapter, error)
	ChapterCount(ctx context.Context, bookID string) (int, error)
	// ListChapters returns chapters with order <= upTo, in order.
	ListChapters(ctx context.Context, bookID string, upTo int) ([]domain.Chapter, error)

	Ping(ctx context.Context) error
	Close() error
}
