package handler

import (
	"errors"
	"net/http"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/playback"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/recording"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/response"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/service"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/session"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/submission"
)

// classified is an engine error translated for the client.
type classified struct {
	status    int
	code      response.ErrCode
	retryable bool
	missing   []string
}

func classify(err error) classified {
	var (
		loadErr  *session.ContentLoadError
		validErr *session.ValidationError
		stageErr *submission.StageError
		forced   *session.ForcedSubmitError
	)

	switch {
	case errors.As(err, &loadErr):
		return classified{status: http.StatusBadGateway, code: response.ErrContentLoadFailed, retryable: loadErr.Retryable}
	case errors.As(err, &validErr):
		return classified{status: http.StatusUnprocessableEntity, code: response.ErrIncompleteAnswers, missing: validErr.Missing}
	case errors.As(err, &forced), errors.As(err, &stageErr):
		return classified{status: http.StatusBadGateway, code: response.ErrSubmissionFailed, retryable: true}
	case errors.Is(err, service.ErrSessionNotFound):
		return classified{status: http.StatusNotFound, code: response.ErrSessionNotFound}
	case errors.Is(err, session.ErrNotActive):
		return classified{status: http.StatusConflict, code: response.ErrSessionNotActive}
	case errors.Is(err, session.ErrClosed):
		return classified{status: http.StatusGone, code: response.ErrSessionClosed}
	case errors.Is(err, service.ErrSubmissionInFlight):
		return classified{status: http.StatusConflict, code: response.ErrSubmitting, retryable: true}
	case errors.Is(err, session.ErrSubmitting):
		return classified{status: http.StatusConflict, code: response.ErrSubmitting}
	case errors.Is(err, session.ErrAlreadyLoaded):
		return classified{status: http.StatusConflict, code: response.ErrSessionLoaded}
	case errors.Is(err, session.ErrUnknownQuestion):
		return classified{status: http.StatusNotFound, code: response.ErrUnknownQuestion}
	case errors.Is(err, session.ErrNotSpeaking):
		return classified{status: http.StatusBadRequest, code: response.ErrNotSpeaking}
	case errors.Is(err, session.ErrSpeakingAnswer), errors.Is(err, session.ErrInvalidIndex):
		return classified{status: http.StatusBadRequest, code: response.ErrInvalidPayload}
	case errors.Is(err, recording.ErrDeviceUnavailable):
		return classified{status: http.StatusConflict, code: response.ErrDeviceUnavailable, retryable: true}
	case errors.Is(err, recording.ErrAlreadyCapturing):
		return classified{status: http.StatusConflict, code: response.ErrAlreadyCapturing}
	case errors.Is(err, recording.ErrNotCapturing):
		return classified{status: http.StatusConflict, code: response.ErrNotCapturing}
	case errors.Is(err, recording.ErrCapacityReached):
		return classified{status: http.StatusConflict, code: response.ErrCapacityReached}
	case errors.Is(err, recording.ErrRecordingTooShort):
		return classified{status: http.StatusUnprocessableEntity, code: response.ErrRecordingTooShort, retryable: true}
	case errors.Is(err, recording.ErrTakeNotSaved):
		return classified{status: http.StatusServiceUnavailable, code: response.ErrTakeNotSaved, retryable: true}
	case errors.Is(err, recording.ErrTakeNotFound):
		return classified{status: http.StatusNotFound, code: response.ErrTakeNotFound}
	case errors.Is(err, recording.ErrPayloadMissing):
		return classified{status: http.StatusGone, code: response.ErrPlaybackUnresolved}
	case errors.Is(err, playback.ErrLimitReached):
		return classified{status: http.StatusForbidden, code: response.ErrPlaybackLimit}
	default:
		return classified{status: http.StatusInternalServerError, code: response.ErrInternal}
	}
}
