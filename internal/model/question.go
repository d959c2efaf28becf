package model

import (
	"encoding/json"
	"fmt"
)

// QuestionType is the closed set of question kinds, resolved once at load time.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeFillBlank      QuestionType = "fill_blank"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeMatching       QuestionType = "matching"
	QuestionTypeSpeaking       QuestionType = "speaking"
)

// ParseQuestionType resolves a content type string into a QuestionType.
func ParseQuestionType(s string) (QuestionType, error) {
	switch t := QuestionType(s); t {
	case QuestionTypeMultipleChoice,
		QuestionTypeTrueFalse,
		QuestionTypeFillBlank,
		QuestionTypeShortAnswer,
		QuestionTypeEssay,
		QuestionTypeMatching,
		QuestionTypeSpeaking:
		return t, nil
	}
	return "", fmt.Errorf("unknown question type %q", s)
}

// ContextKind tells what a question's shared context points at.
type ContextKind string

const (
	ContextKindNone    ContextKind = ""
	ContextKindPassage ContextKind = "passage"
	ContextKindAudio   ContextKind = "audio"
)

// Question is an immutable content unit of an assessment.
type Question struct {
	ID         string          `json:"id"`
	Type       QuestionType    `json:"type"`
	Prompt     string          `json:"prompt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Points     float64         `json:"points"`
	Order      int             `json:"order"`
	Context    ContextKind     `json:"context_kind,omitempty"`
	ContextRef string          `json:"context_ref,omitempty"`
	// MaxPlays limits plays of the audio context; 0 uses the content default.
	MaxPlays int `json:"max_plays,omitempty"`
}

// IsSpeaking reports whether the question is answered with a recording.
func (q Question) IsSpeaking() bool {
	return q.Type == QuestionTypeSpeaking
}

// AudioResource returns the listening resource backing the question, if any.
func (q Question) AudioResource() (string, bool) {
	if q.Context == ContextKindAudio && q.ContextRef != "" {
		return q.ContextRef, true
	}
	return "", false
}
