package session

import (
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/playback"
)

// UpdateKind classifies messages on the update stream.
type UpdateKind string

const (
	UpdateState     UpdateKind = "state"
	UpdateTick      UpdateKind = "tick"
	UpdateTakes     UpdateKind = "takes"
	UpdatePlayback  UpdateKind = "playback"
	UpdateSubmitted UpdateKind = "submitted"
	UpdateError     UpdateKind = "error"
)

// Update is one message published to the host.
type Update struct {
	Kind             UpdateKind         `json:"kind"`
	State            model.SessionState `json:"state,omitempty"`
	RemainingSeconds int                `json:"remaining_seconds"`
	Current          int                `json:"current"`
	QuestionID       string             `json:"question_id,omitempty"`
	SelectedTakeID   string             `json:"selected_take_id,omitempty"`
	Takes            []model.Take       `json:"takes,omitempty"`
	Playback         *playback.State    `json:"playback,omitempty"`
	Degraded         []string           `json:"degraded,omitempty"`
	Error            string             `json:"error,omitempty"`
	Retryable        bool               `json:"retryable,omitempty"`
}

// View is a point-in-time copy of the session for rendering.
type View struct {
	State        model.SessionState      `json:"state"`
	AssessmentID string                  `json:"assessment_id"`
	Title        string                  `json:"title"`
	Kind         model.AssessmentKind    `json:"kind"`
	Questions    []model.Question        `json:"questions"`
	Answers      map[string]model.Answer `json:"answers"`
	Current      int                     `json:"current"`
	Countdown    model.Countdown         `json:"countdown"`
	Takes        map[string][]model.Take `json:"takes"`
	Capturing    string                  `json:"capturing,omitempty"`

	// CaptureSeconds is the elapsed time of the running capture.
	CaptureSeconds int              `json:"capture_seconds,omitempty"`
	Playback       []playback.State `json:"playback,omitempty"`
	Degraded       []string         `json:"degraded,omitempty"`
	Error          string           `json:"error,omitempty"`
	Retryable      bool             `json:"retryable,omitempty"`
}
