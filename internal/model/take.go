package model

import "time"

// Take is one captured audio attempt for one speaking question.
// The payload itself lives in the persistence store, keyed by question and take.
type Take struct {
	ID              string    `json:"id"`
	QuestionID      string    `json:"question_id"`
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	Size            int       `json:"size"`
}

// RecordingMeta is the persisted take list and selection for one question.
type RecordingMeta struct {
	Takes      []Take `json:"takes"`
	SelectedID string `json:"selected_id,omitempty"`
}
