package submission

import "fmt"

// Stage names a step of the pipeline.
type Stage string

const (
	StageNegotiate Stage = "negotiate"
	StageUpload    Stage = "upload"
	StageFinalize  Stage = "finalize"
	StageAnswers   Stage = "answers"
)

// StageError reports the stage at which a submission attempt stopped.
// Every StageError is retryable with the same Attempt.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("submission %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
