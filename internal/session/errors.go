package session

import (
	"errors"
	"fmt"
	"strings"
)

// Session errors.
var (
	ErrNotActive       = errors.New("session is not active")
	ErrClosed          = errors.New("session closed")
	ErrSubmitting      = errors.New("submission in progress")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrNotSpeaking     = errors.New("question is not a speaking question")
	ErrSpeakingAnswer  = errors.New("speaking answers are set by selecting a take")
	ErrInvalidIndex    = errors.New("question index out of range")
	ErrAlreadyLoaded   = errors.New("session already loaded")
)

// LoadStage names the fetch that failed during Load.
type LoadStage string

const (
	LoadStageMetadata LoadStage = "metadata"
	LoadStageContent  LoadStage = "content"
)

// ContentLoadError means the session could not be built. Retryable errors
// may succeed on a second Load.
type ContentLoadError struct {
	Stage     LoadStage
	Retryable bool
	Err       error
}

func (e *ContentLoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Stage, e.Err)
}

func (e *ContentLoadError) Unwrap() error { return e.Err }

// ValidationError blocks a voluntary submission. Missing holds the ids of
// the incomplete questions in question order.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "incomplete answers: " + strings.Join(e.Missing, ", ")
}

// ForcedSubmitError is recorded when automatic retries of a forced
// submission ran out. The snapshot is kept so a reload submits again.
type ForcedSubmitError struct {
	Attempts int
	Err      error
}

func (e *ForcedSubmitError) Error() string {
	return fmt.Sprintf("forced submission failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ForcedSubmitError) Unwrap() error { return e.Err }

// temporary is implemented by transport errors that know whether a retry
// can help.
type temporary interface {
	Temporary() bool
}

func retryable(err error) bool {
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}
