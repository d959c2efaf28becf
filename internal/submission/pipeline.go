// Package submission turns a finished session into a recorded attempt on the
// backend: assemble, negotiate upload targets, upload, finalize.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/metrics"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/rs/zerolog"
)

const documentContentType = "application/json"

// Backend is the subset of the portal API used to submit an attempt.
type Backend interface {
	RequestUploadTargets(ctx context.Context, assessmentID, studentID string, questionIDs []string) (*model.UploadTargets, error)
	Upload(ctx context.Context, target model.UploadTarget, body []byte) error
	Finalize(ctx context.Context, assessmentID, studentID, metadataRef string) error
	SubmitAnswers(ctx context.Context, assessmentID, studentID string, doc model.SubmissionDocument) error
}

// PayloadSource yields the selected take's audio for a question.
type PayloadSource interface {
	SelectedPayload(ctx context.Context, questionID string) ([]byte, error)
}

// Attempt carries one artifact through the pipeline. Stages already done
// are not repeated when Run is called again after a failure.
type Attempt struct {
	Artifact *model.SubmissionArtifact

	targets     *model.UploadTargets
	metadataRef string
	docUploaded bool
	resolved    map[string]bool
	uploaded    []string
	skipped     []string
	failed      []string
	finalized   bool
}

// NewAttempt starts an attempt for an assembled artifact.
func NewAttempt(art *model.SubmissionArtifact) *Attempt {
	return &Attempt{Artifact: art, resolved: map[string]bool{}}
}

// Report summarizes a finished attempt.
type Report struct {
	MetadataRef string
	Uploaded    []string
	// Skipped lists speaking questions whose payload could not be found.
	Skipped []string
	// Failed lists speaking questions whose upload was rejected.
	Failed []string
}

// Degraded returns every speaking question missing from the submission.
func (r *Report) Degraded() []string {
	out := make([]string, 0, len(r.Skipped)+len(r.Failed))
	out = append(out, r.Skipped...)
	return append(out, r.Failed...)
}

// Pipeline runs attempts against the backend.
type Pipeline struct {
	backend  Backend
	payloads PayloadSource
	log      zerolog.Logger
	now      func() time.Time
}

// NewPipeline creates a pipeline.
func NewPipeline(backend Backend, payloads PayloadSource, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		backend:  backend,
		payloads: payloads,
		log:      log.With().Str("component", "submission").Logger(),
		now:      time.Now,
	}
}

// Run drives the attempt to a finalized submission. Success is only
// reported once finalize (or the combined answers call) has succeeded.
func (p *Pipeline) Run(ctx context.Context, att *Attempt) (*Report, error) {
	art := att.Artifact
	log := p.log.With().
		Str("assessment_id", art.AssessmentID).
		Str("student_id", art.StudentID).
		Bool("forced", art.Forced).
		Logger()

	if !art.UseUploads {
		return p.runCombined(ctx, att, log)
	}

	if att.targets == nil {
		targets, err := p.backend.RequestUploadTargets(ctx, art.AssessmentID, art.StudentID, art.RecordingOrder)
		if err != nil {
			log.Error().Err(err).Msg("Upload target negotiation failed")
			return nil, &StageError{Stage: StageNegotiate, Err: err}
		}
		att.targets = targets
		att.metadataRef = targets.FinalizeRef
		if att.metadataRef == "" {
			att.metadataRef = targets.JSON.StorageReference
		}
	}

	if !att.docUploaded {
		body, err := json.Marshal(Document(art, p.now()))
		if err != nil {
			return nil, &StageError{Stage: StageUpload, Err: fmt.Errorf("encode document: %w", err)}
		}
		target := att.targets.JSON
		if target.ContentType == "" {
			target.ContentType = documentContentType
		}
		if err := p.backend.Upload(ctx, target, body); err != nil {
			metrics.UploadsTotal.WithLabelValues("document", "failed").Inc()
			log.Error().Err(err).Msg("Metadata document upload failed")
			return nil, &StageError{Stage: StageUpload, Err: err}
		}
		metrics.UploadsTotal.WithLabelValues("document", "ok").Inc()
		att.docUploaded = true
	}

	for _, qid := range art.RecordingOrder {
		if att.resolved[qid] {
			continue
		}
		p.uploadRecording(ctx, att, qid, log)
		att.resolved[qid] = true
	}

	if !att.finalized {
		if err := p.backend.Finalize(ctx, art.AssessmentID, art.StudentID, att.metadataRef); err != nil {
			log.Error().Err(err).Msg("Finalize failed")
			return nil, &StageError{Stage: StageFinalize, Err: err}
		}
		att.finalized = true
	}

	rep := &Report{
		MetadataRef: att.metadataRef,
		Uploaded:    att.uploaded,
		Skipped:     att.skipped,
		Failed:      att.failed,
	}
	if d := rep.Degraded(); len(d) > 0 {
		log.Warn().Strs("questions", d).Msg("Submission finalized without some recordings")
	} else {
		log.Info().Int("recordings", len(att.uploaded)).Msg("Submission finalized")
	}
	return rep, nil
}

func (p *Pipeline) uploadRecording(ctx context.Context, att *Attempt, qid string, log zerolog.Logger) {
	target, ok := att.targets.PerQuestion[qid]
	if !ok {
		log.Warn().Str("question_id", qid).Msg("No upload target issued, skipping recording")
		att.skipped = append(att.skipped, qid)
		metrics.UploadsTotal.WithLabelValues("recording", "skipped").Inc()
		return
	}

	payload, err := p.payloads.SelectedPayload(ctx, qid)
	if err != nil || len(payload) == 0 {
		log.Warn().Err(err).Str("question_id", qid).Msg("Recording payload missing, skipping")
		att.skipped = append(att.skipped, qid)
		metrics.UploadsTotal.WithLabelValues("recording", "skipped").Inc()
		return
	}

	if err := p.backend.Upload(ctx, target, payload); err != nil {
		log.Warn().Err(err).Str("question_id", qid).Msg("Recording upload failed")
		att.failed = append(att.failed, qid)
		metrics.UploadsTotal.WithLabelValues("recording", "failed").Inc()
		return
	}
	att.uploaded = append(att.uploaded, qid)
	metrics.UploadsTotal.WithLabelValues("recording", "ok").Inc()
}

func (p *Pipeline) runCombined(ctx context.Context, att *Attempt, log zerolog.Logger) (*Report, error) {
	if !att.finalized {
		doc := Document(att.Artifact, p.now())
		if err := p.backend.SubmitAnswers(ctx, doc.AssessmentID, doc.StudentID, doc); err != nil {
			log.Error().Err(err).Msg("Answer submission failed")
			return nil, &StageError{Stage: StageAnswers, Err: err}
		}
		att.finalized = true
	}
	log.Info().Int("answers", len(att.Artifact.Answers)).Msg("Answers submitted")
	return &Report{}, nil
}
