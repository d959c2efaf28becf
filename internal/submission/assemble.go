package submission

import (
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
)

// Assemble builds the ordered answer list from a session and collects the
// speaking questions that have a selected take to upload.
func Assemble(sess *model.Session, forced bool, now time.Time) *model.SubmissionArtifact {
	art := &model.SubmissionArtifact{
		AssessmentID: sess.AssessmentID,
		StudentID:    sess.StudentID,
		Kind:         sess.Kind,
		Forced:       forced,
		Answers:      make([]model.AnswerRecord, 0, len(sess.Questions)),
		Recordings:   map[string]string{},
		UseUploads:   sess.HasSpeaking(),
		AssembledAt:  now.UTC(),
	}

	for _, q := range sess.Questions {
		ans, ok := sess.Answers[q.ID]
		rec := model.AnswerRecord{QuestionID: q.ID, Type: q.Type}

		if q.IsSpeaking() {
			if ok && ans.TakeID != "" {
				rec.TakeID = ans.TakeID
				art.Recordings[q.ID] = ans.TakeID
				art.RecordingOrder = append(art.RecordingOrder, q.ID)
			}
		} else if ok {
			rec.Value = ans.Value
		}
		art.Answers = append(art.Answers, rec)
	}
	return art
}

// Document is the JSON metadata uploaded ahead of the binaries.
func Document(art *model.SubmissionArtifact, submittedAt time.Time) model.SubmissionDocument {
	return model.SubmissionDocument{
		AssessmentID: art.AssessmentID,
		StudentID:    art.StudentID,
		Kind:         art.Kind,
		Forced:       art.Forced,
		SubmittedAt:  submittedAt.UTC(),
		Answers:      art.Answers,
		Recordings:   art.Recordings,
	}
}
