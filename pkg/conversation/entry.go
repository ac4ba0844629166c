package conversation

import (
	"time"

	"chapterwise/pkg/domain"
)

// Kind tells a locally minted entry id from one the server assigned.
type Kind int

const (
	Local Kind = iota + 1
	Persisted
)

// ID identifies an entry. A Local id only lives until the create call
// returns; Retarget turns it into the Persisted id in one step.
type ID struct {
	Kind  Kind
	Value string
}

func LocalID(v string) ID     { return ID{Kind: Local, Value: v} }
func PersistedID(v string) ID { return ID{Kind: Persisted, Value: v} }

func (id ID) String() string {
	if id.Kind == Local {
		return "local:" + id.Value
	}
	return id.Value
}

// Entry is one question/answer bubble.
type Entry struct {
	ID       ID
	Question domain.Question
}

// Message is the text shown under a failed entry.
func (e Entry) Message() string {
	if e.Question.Status != domain.StatusFailed {
		return ""
	}
	if e.Question.ErrorMessage != "" {
		return e.Question.ErrorMessage
	}
	return e.Question.FailureReason.Message()
}

// NewLocalEntry builds the optimistic entry placed before the create call.
func NewLocalEntry(localID, bookID, text string, chapterLimit int, now time.Time) Entry {
	return Entry{
		ID: LocalID(localID),
		Question: domain.Question{
			BookID:       bookID,
			Text:         text,
			ChapterLimit: chapterLimit,
			Status:       domain.StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
}

// Patch carries the fields an update may change; nil fields are left alone.
type Patch struct {
	Status        *domain.QuestionStatus
	AnswerText    *string
	FailureReason *domain.FailureReason
	ErrorMessage  *string
	Sources       []domain.Source
	UpdatedAt     *time.Time
}

// PatchFromQuestion copies the fields polling is allowed to change.
func PatchFromQuestion(q domain.Question) Patch {
	p := Patch{
		Status:     &q.Status,
		AnswerText: &q.AnswerText,
		Sources:    q.Sources,
	}
	reason := q.FailureReason
	if q.Status == domain.StatusFailed && reason == domain.FailureNone {
		reason = domain.FailureGeneration
	}
	p.FailureReason = &reason
	p.ErrorMessage = &q.ErrorMessage
	if !q.UpdatedAt.IsZero() {
		p.UpdatedAt = &q.UpdatedAt
	}
	return p
}

// FailedPatch marks an entry failed for a locally detected reason.
func FailedPatch(reason domain.FailureReason, now time.Time) Patch {
	status := domain.StatusFailed
	msg := reason.Message()
	return Patch{
		Status:        &status,
		FailureReason: &reason,
		ErrorMessage:  &msg,
		UpdatedAt:     &now,
	}
}

func (p Patch) apply(q *domain.Question) {
	if p.Status != nil {
		q.Status = *p.Status
	}
	if p.AnswerText != nil {
		q.AnswerText = *p.AnswerText
	}
	if p.FailureReason != nil {
		q.FailureReason = *p.FailureReason
	}
	if p.ErrorMessage != nil {
		q.ErrorMessage = *p.ErrorMessage
	}
	if p.Sources != nil {
		q.Sources = append([]domain.Source(nil), p.Sources...)
	}
	if p.UpdatedAt != nil {
		q.UpdatedAt = *p.UpdatedAt
	}
}
