// Package content turns the backend's question-content document into the
// engine's immutable question list.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/validator"
)

// ErrInvalidContent marks a document that can never produce a session.
var ErrInvalidContent = errors.New("invalid question content")

// Document is the wire shape of GET question-content.
type Document struct {
	Questions []QuestionDoc `json:"questions" validate:"required,min=1,dive"`
	Settings  SettingsDoc   `json:"settings"`
}

// QuestionDoc is one question as served by the backend.
type QuestionDoc struct {
	ID            string          `json:"id" validate:"required,max=128"`
	Type          string          `json:"type" validate:"required,oneof=multiple_choice true_false fill_blank short_answer essay matching speaking"`
	Prompt        string          `json:"prompt"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Points        float64         `json:"points" validate:"gte=0"`
	Order         int             `json:"order" validate:"gte=0"`
	SharedContext *ContextDoc     `json:"shared_context,omitempty"`
}

// ContextDoc references a reading passage or an audio resource. MaxPlays
// overrides the content-wide play limit for an audio resource.
type ContextDoc struct {
	Kind     string `json:"kind" validate:"required,oneof=passage audio"`
	Ref      string `json:"ref" validate:"required"`
	MaxPlays int    `json:"max_plays" validate:"gte=0"`
}

// SettingsDoc holds the optional per-content settings.
type SettingsDoc struct {
	MultiTake        bool `json:"multi_take"`
	MaxTakes         int  `json:"max_takes" validate:"gte=0,lte=20"`
	TimeLimitMinutes int  `json:"time_limit_minutes" validate:"gte=0"`
	MaxPlays         int  `json:"max_plays" validate:"gte=0"`
}

// Content is a validated document resolved into model types.
type Content struct {
	Questions []model.Question
	Settings  model.ContentSettings
}

// Parse decodes and validates raw content. Question order follows the
// ordering key, ties keep document order.
func Parse(raw []byte) (*Content, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if err := validator.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContent, describe(validator.TranslateErrors(err)))
	}

	seen := make(map[string]struct{}, len(doc.Questions))
	questions := make([]model.Question, 0, len(doc.Questions))
	for _, qd := range doc.Questions {
		if _, dup := seen[qd.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question id %q", ErrInvalidContent, qd.ID)
		}
		seen[qd.ID] = struct{}{}

		qt, err := model.ParseQuestionType(qd.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
		}

		q := model.Question{
			ID:      qd.ID,
			Type:    qt,
			Prompt:  qd.Prompt,
			Payload: qd.Payload,
			Points:  qd.Points,
			Order:   qd.Order,
		}
		if qd.SharedContext != nil {
			q.Context = model.ContextKind(qd.SharedContext.Kind)
			q.ContextRef = qd.SharedContext.Ref
			if q.Context == model.ContextKindAudio {
				q.MaxPlays = qd.SharedContext.MaxPlays
			}
		}
		questions = append(questions, q)
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Order < questions[j].Order
	})

	return &Content{
		Questions: questions,
		Settings: model.ContentSettings{
			MultiTake:        doc.Settings.MultiTake,
			MaxTakes:         doc.Settings.MaxTakes,
			TimeLimitMinutes: doc.Settings.TimeLimitMinutes,
			MaxPlays:         doc.Settings.MaxPlays,
		},
	}, nil
}

func describe(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, "; ")
}
