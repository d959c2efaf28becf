package session

import (
	"bytes"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
)

// Validate returns the questions that block a voluntary submission.
// Speaking questions always need a selected take. Writing assignments
// additionally need a non-empty answer on every question.
func Validate(sess *model.Session) []string {
	var missing []string
	for _, q := range sess.Questions {
		ans, ok := sess.Answers[q.ID]
		switch {
		case q.IsSpeaking():
			if !ok || ans.TakeID == "" {
				missing = append(missing, q.ID)
			}
		case sess.Kind == model.AssessmentKindWritingAssignment:
			if !ok || isBlank(ans.Value) {
				missing = append(missing, q.ID)
			}
		}
	}
	return missing
}

func isBlank(v []byte) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}
