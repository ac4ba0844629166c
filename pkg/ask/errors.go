package ask

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyQuestion   = errors.New("question text required")
	ErrQuestionTooLong = errors.New("question too long")
	ErrUnauthenticated = errors.New("sign in to ask questions")
	ErrClosed          = errors.New("ask pipeline closed")
)

// Stage names the remote call that failed during a submission.
type Stage string

const (
	StageCreate  Stage = "create"
	StageTrigger Stage = "trigger"
)

// SubmitError wraps a backend failure with the stage it happened in. A
// create failure means the local entry was rolled back; a trigger failure
// means the question exists and is shown as failed.
type SubmitError struct {
	Stage Stage
	Err   error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s question: %v", e.Stage, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
