package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"

	// ─── Session ───────────────────────────────────────────────────────
	ErrContentLoadFailed ErrCode = "CONTENT_LOAD_FAILED"
	ErrSessionNotActive  ErrCode = "SESSION_NOT_ACTIVE"
	ErrSessionClosed     ErrCode = "SESSION_CLOSED"
	ErrSessionLoaded     ErrCode = "SESSION_ALREADY_LOADED"
	ErrSubmitting        ErrCode = "SUBMISSION_IN_PROGRESS"
	ErrIncompleteAnswers ErrCode = "VALIDATION_FAILED"
	ErrSubmissionFailed  ErrCode = "SUBMISSION_FAILED"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrNotSpeaking       ErrCode = "NOT_SPEAKING_QUESTION"

	// ─── Recording ─────────────────────────────────────────────────────
	ErrDeviceUnavailable  ErrCode = "DEVICE_UNAVAILABLE"
	ErrAlreadyCapturing   ErrCode = "ALREADY_CAPTURING"
	ErrNotCapturing       ErrCode = "NOT_CAPTURING"
	ErrCapacityReached    ErrCode = "CAPACITY_REACHED"
	ErrRecordingTooShort  ErrCode = "RECORDING_TOO_SHORT"
	ErrTakeNotFound       ErrCode = "TAKE_NOT_FOUND"
	ErrTakeNotSaved       ErrCode = "TAKE_NOT_SAVED"
	ErrPlaybackLimit      ErrCode = "PLAYBACK_LIMIT_REACHED"
	ErrPlaybackUnresolved ErrCode = "PLAYBACK_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrSessionNotFound:
		return "No open session for this assessment in this tab."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrContentLoadFailed:
		return "The assessment could not be loaded."
	case ErrSessionNotActive:
		return "The session is not active."
	case ErrSessionClosed:
		return "The session has been closed."
	case ErrSessionLoaded:
		return "The session is already loaded."
	case ErrSubmitting:
		return "A submission is in progress."
	case ErrIncompleteAnswers:
		return "Some questions are not answered yet."
	case ErrSubmissionFailed:
		return "The submission failed. Please try again."
	case ErrUnknownQuestion:
		return "The question does not exist in this assessment."
	case ErrNotSpeaking:
		return "The question does not accept recordings."

	// ─── Recording ─────────────────────────────────────────────────────
	case ErrDeviceUnavailable:
		return "Microphone is not available."
	case ErrAlreadyCapturing:
		return "A recording is already in progress."
	case ErrNotCapturing:
		return "No recording is in progress."
	case ErrCapacityReached:
		return "The maximum number of takes has been reached."
	case ErrRecordingTooShort:
		return "The recording is too short."
	case ErrTakeNotFound:
		return "The take does not exist."
	case ErrTakeNotSaved:
		return "The recording could not be saved. Please record again."
	case ErrPlaybackLimit:
		return "The playback limit for this audio has been reached."
	case ErrPlaybackUnresolved:
		return "The recording is no longer available for playback."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
