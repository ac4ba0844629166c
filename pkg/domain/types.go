package domain

import (
	"math"
	"time"
)

type QuestionStatus string

const (
	StatusPending  QuestionStatus = "pending"
	StatusAnswered QuestionStatus = "answered"
	StatusFailed   QuestionStatus = "failed"
)

// Terminal reports whether no further automatic transition happens from s.
func (s QuestionStatus) Terminal() bool {
	return s == StatusAnswered || s == StatusFailed
}

// FailureReason distinguishes why a question ended up failed.
type FailureReason string

const (
	FailureNone       FailureReason = ""
	FailureTrigger    FailureReason = "trigger_failed"
	FailureGeneration FailureReason = "generation_failed"
	FailureTimeout    FailureReason = "timeout"
)

// Message returns the user-facing explanation for a failure reason.
func (r FailureReason) Message() string {
	switch r {
	case FailureTrigger:
		return "Failed to generate answer"
	case FailureGeneration:
		return "The answer could not be generated. Please try asking again."
	case FailureTimeout:
		return "Answer generation timed out. Please try again later."
	default:
		return ""
	}
}

type Progress struct {
	BookID             string    `json:"title_id"`
	CurrentChapter     int       `json:"current_chapter"`
	TotalChapters      int       `json:"total_chapters"`
	ProgressPercentage int       `json:"progress_percentage"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Percentage derives the completion percentage; 0 when the book has no chapters.
func (p Progress) Percentage() int {
	if p.TotalChapters <= 0 {
		return 0
	}
	return int(math.Round(float64(p.CurrentChapter) / float64(p.TotalChapters) * 100))
}

// Valid reports whether 0 <= current <= total.
func (p Progress) Valid() bool {
	return p.CurrentChapter >= 0 && p.TotalChapters >= 0 && p.CurrentChapter <= p.TotalChapters
}

type ProgressUpdate struct {
	BookID         string `json:"title_id"`
	CurrentChapter int    `json:"current_chapter"`
	TotalChapters  int    `json:"total_chapters"`
}

type Question struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id,omitempty"`
	BookID        string         `json:"title_id"`
	Text          string         `json:"question_text"`
	ChapterLimit  int            `json:"chapter_limit"`
	AnswerText    string         `json:"answer_text,omitempty"`
	Status        QuestionStatus `json:"status"`
	FailureReason FailureReason  `json:"failure_reason,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Sources       []Source       `json:"sources,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Settled reports whether the backend produced an answer or gave up.
func (q Question) Settled() bool {
	return q.AnswerText != "" || q.Status == StatusFailed
}

type NewQuestion struct {
	BookID       string `json:"title_id"`
	Text         string `json:"question_text"`
	ChapterLimit int    `json:"chapter_limit"`
}

// Source points at a chapter an answer drew from.
type Source struct {
	Chapter int    `json:"chapter"`
	Name    string `json:"name,omitempty"`
}

type Chapter struct {
	ID      string `json:"id"`
	BookID  string `json:"title_id"`
	Order   int    `json:"order"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

type GenerationJob struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
