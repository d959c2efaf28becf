package model

import (
	"encoding/json"
	"time"
)

// AnswerRecord is one ordered entry of a submission.
type AnswerRecord struct {
	QuestionID string          `json:"question_id"`
	Type       QuestionType    `json:"type"`
	Value      json.RawMessage `json:"value,omitempty"`
	TakeID     string          `json:"take_id,omitempty"`
}

// SubmissionArtifact is the transient output of answer collection at submit time.
type SubmissionArtifact struct {
	AssessmentID string         `json:"assessment_id"`
	StudentID    string         `json:"student_id"`
	Kind         AssessmentKind `json:"kind"`
	Forced       bool           `json:"forced"`
	Answers      []AnswerRecord `json:"answers"`
	// Recordings maps speaking question id to the selected take id.
	Recordings map[string]string `json:"recordings"`
	// RecordingOrder keeps the upload order stable (question order).
	RecordingOrder []string `json:"-"`
	// UseUploads is false when the combined answers call replaces
	// negotiate, upload and finalize.
	UseUploads  bool      `json:"-"`
	AssembledAt time.Time `json:"assembled_at"`
}

// UploadTarget is a pre-authorized destination for one payload.
type UploadTarget struct {
	URL              string `json:"upload_target"`
	ContentType      string `json:"content_type"`
	StorageReference string `json:"storage_reference"`
}

// UploadTargets is the backend's answer to an upload-target negotiation.
type UploadTargets struct {
	JSON        UploadTarget            `json:"json_upload_target"`
	PerQuestion map[string]UploadTarget `json:"per_question"`
	// FinalizeRef is the storage reference passed to finalize.
	FinalizeRef string `json:"finalize_reference,omitempty"`
}

// SubmissionDocument is the JSON metadata uploaded ahead of the binaries.
type SubmissionDocument struct {
	AssessmentID string            `json:"assessment_id"`
	StudentID    string            `json:"student_id"`
	Kind         AssessmentKind    `json:"kind"`
	Forced       bool              `json:"forced"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	Answers      []AnswerRecord    `json:"answers"`
	Recordings   map[string]string `json:"recordings"`
}

// Receipt records a finalized submission for server-side bookkeeping.
type Receipt struct {
	AssessmentID string    `json:"assessment_id"`
	StudentID    string    `json:"student_id"`
	MetadataRef  string    `json:"metadata_ref"`
	Forced       bool      `json:"forced"`
	Degraded     []string  `json:"degraded"`
	FinalizedAt  time.Time `json:"finalized_at"`
}
