// Package boundary derives the spoiler boundary attached to a question.
package boundary

import (
	"errors"
	"fmt"

	"chapterwise/pkg/domain"
)

// ErrNoProgress blocks questions until the reader sets a chapter.
var ErrNoProgress = errors.New("set your progress first")

// Resolve returns the chapter limit for a new question: the reader's current
// chapter. Zero progress is rejected rather than sent as "reveal nothing".
func Resolve(p domain.Progress) (int, error) {
	if p.CurrentChapter <= 0 {
		return 0, ErrNoProgress
	}
	return p.CurrentChapter, nil
}

// Status is the short progress line shown above the question box.
func Status(p domain.Progress) string {
	if p.CurrentChapter <= 0 {
		return "You haven't started this book yet"
	}
	return fmt.Sprintf("You're at chapter %d", p.CurrentChapter)
}

// Notice explains what answers will be limited to.
func Notice(p domain.Progress) string {
	if p.CurrentChapter <= 0 {
		return "Set your progress first to ask spoiler-free questions"
	}
	return fmt.Sprintf("Answers will be filtered to chapter %d and earlier", p.CurrentChapter)
}
