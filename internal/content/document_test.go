package content

import (
	"errors"
	"testing"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
)

func TestParseOrdersQuestions(t *testing.T) {
	raw := []byte(`{
		"questions": [
			{"id": "q3", "type": "essay", "order": 2},
			{"id": "q1", "type": "multiple_choice", "order": 1, "payload": {"options": ["a", "b"]}},
			{"id": "q2", "type": "speaking", "order": 1, "shared_context": {"kind": "audio", "ref": "media/intro.mp3"}}
		],
		"settings": {"multi_take": true, "max_takes": 4, "time_limit_minutes": 20, "max_plays": 1}
	}`)

	c, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var ids []string
	for _, q := range c.Questions {
		ids = append(ids, q.ID)
	}
	want := []string{"q1", "q2", "q3"}
	for i := range want {
		if i >= len(ids) || ids[i] != want[i] {
			t.Fatalf("question order = %v, want %v", ids, want)
		}
	}

	q2 := c.Questions[1]
	if q2.Type != model.QuestionTypeSpeaking || !q2.IsSpeaking() {
		t.Errorf("q2 type = %q, want speaking", q2.Type)
	}
	if q2.Context != model.ContextKindAudio || q2.ContextRef != "media/intro.mp3" {
		t.Errorf("q2 context = %q %q", q2.Context, q2.ContextRef)
	}
	if string(c.Questions[0].Payload) != `{"options": ["a", "b"]}` {
		t.Errorf("payload not kept verbatim: %s", c.Questions[0].Payload)
	}

	wantSettings := model.ContentSettings{MultiTake: true, MaxTakes: 4, TimeLimitMinutes: 20, MaxPlays: 1}
	if c.Settings != wantSettings {
		t.Errorf("settings = %+v, want %+v", c.Settings, wantSettings)
	}
}

func TestParseRejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"questions": [`},
		{"no questions", `{"questions": []}`},
		{"missing id", `{"questions": [{"type": "essay"}]}`},
		{"unknown type", `{"questions": [{"id": "q1", "type": "drawing"}]}`},
		{"duplicate id", `{"questions": [{"id": "q1", "type": "essay"}, {"id": "q1", "type": "essay"}]}`},
		{"bad context kind", `{"questions": [{"id": "q1", "type": "essay", "shared_context": {"kind": "video", "ref": "x"}}]}`},
		{"negative limit", `{"questions": [{"id": "q1", "type": "essay"}], "settings": {"time_limit_minutes": -1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if !errors.Is(err, ErrInvalidContent) {
				t.Fatalf("Parse: got %v, want ErrInvalidContent", err)
			}
		})
	}
}
