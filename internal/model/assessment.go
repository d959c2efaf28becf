package model

import "fmt"

// AssessmentKind is the closed set of assessment types the portal serves.
type AssessmentKind string

const (
	AssessmentKindQuiz                AssessmentKind = "quiz"
	AssessmentKindPlacementTest       AssessmentKind = "placement_test"
	AssessmentKindSpeakingAssignment  AssessmentKind = "speaking_assignment"
	AssessmentKindListeningAssignment AssessmentKind = "listening_assignment"
	AssessmentKindWritingAssignment   AssessmentKind = "writing_assignment"
)

// ParseAssessmentKind resolves a backend type string into an AssessmentKind.
func ParseAssessmentKind(s string) (AssessmentKind, error) {
	switch k := AssessmentKind(s); k {
	case AssessmentKindQuiz,
		AssessmentKindPlacementTest,
		AssessmentKindSpeakingAssignment,
		AssessmentKindListeningAssignment,
		AssessmentKindWritingAssignment:
		return k, nil
	}
	return "", fmt.Errorf("unknown assessment kind %q", s)
}

// Assessment is the metadata returned by the backend for one assessment.
type Assessment struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Kind             string  `json:"kind"`
	TimeLimitMinutes int     `json:"time_limit_minutes"`
	TotalPoints      float64 `json:"total_points"`
	ContentRef       string  `json:"question_content_reference"`
}
