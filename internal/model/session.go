package model

import (
	"encoding/json"
	"time"
)

// SessionState enumerates the lifecycle states of an assessment attempt.
type SessionState string

const (
	SessionStateLoading           SessionState = "LOADING"
	SessionStateActive            SessionState = "ACTIVE"
	SessionStateSubmitting        SessionState = "SUBMITTING"
	SessionStateExpiredSubmitting SessionState = "EXPIRED_SUBMITTING"
	SessionStateSubmitted         SessionState = "SUBMITTED"
	SessionStateError             SessionState = "ERROR"
)

// Answer pairs a question with the student's current response.
// Speaking answers carry a TakeID instead of a Value.
type Answer struct {
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value,omitempty"`
	TakeID     string          `json:"take_id,omitempty"`
}

// Countdown is the timer state of a session, in whole seconds.
type Countdown struct {
	LimitSeconds     int  `json:"limit_seconds"`
	RemainingSeconds int  `json:"remaining_seconds"`
	Running          bool `json:"running"`
}

// Session is one attempt at one assessment.
type Session struct {
	AssessmentID string            `json:"assessment_id"`
	StudentID    string            `json:"student_id"`
	Kind         AssessmentKind    `json:"kind"`
	Title        string            `json:"title"`
	Questions    []Question        `json:"questions"`
	Answers      map[string]Answer `json:"answers"`
	Current      int               `json:"current"`
	Countdown    Countdown         `json:"countdown"`
	StartedAt    time.Time         `json:"started_at"`
	LastAutosave time.Time         `json:"last_autosave,omitempty"`
	Settings     ContentSettings   `json:"settings"`
}

// Question looks up a question by id.
func (s *Session) Question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// HasSpeaking reports whether any question needs an uploaded recording.
func (s *Session) HasSpeaking() bool {
	for _, q := range s.Questions {
		if q.IsSpeaking() {
			return true
		}
	}
	return false
}

// ContentSettings are the optional settings shipped with question content.
type ContentSettings struct {
	MultiTake        bool `json:"multi_take"`
	MaxTakes         int  `json:"max_takes"`
	TimeLimitMinutes int  `json:"time_limit_minutes"`
	MaxPlays         int  `json:"max_plays"`
}

// Snapshot is the autosaved session state kept in the tab-scoped store.
type Snapshot struct {
	StudentID string            `json:"student_id"`
	Answers   map[string]Answer `json:"answers"`
	Current   int               `json:"current"`
	// StartedAt is the attempt start as unix milliseconds.
	StartedAt int64 `json:"started_at"`
	// RemainingSeconds is only read from snapshots written before start
	// timestamps were recorded; it is never written.
	RemainingSeconds *int `json:"remaining_seconds,omitempty"`
}
