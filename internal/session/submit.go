package session

import (
	"context"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/metrics"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/recording"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/submission"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Submit runs a voluntary submission. Incomplete answers are rejected with
// a ValidationError. While another submission is in flight the call is a
// no-op.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return nil
	}
	if err := c.requireActive(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.recorders.StopActive(ctx)
	c.drainRecordings()

	if missing := Validate(c.sess); len(missing) > 0 {
		c.mu.Unlock()
		return &ValidationError{Missing: missing}
	}

	c.submitting = true
	c.wg.Add(1)
	defer c.wg.Done()
	c.lastErr = nil
	c.setState(model.SessionStateSubmitting)
	art := submission.Assemble(c.sess, false, c.clock.Now())
	pipeline := c.pipeline(ctx, art)
	c.mu.Unlock()

	// Leaving the page must not cut a started submission short.
	rep, err := pipeline.Run(context.WithoutCancel(ctx), submission.NewAttempt(art))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false

	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(metrics.Trigger(false), "failed").Inc()
		c.lastErr = err
		if c.state == model.SessionStateSubmitting {
			c.setState(model.SessionStateActive)
		}
		c.publish(Update{Kind: UpdateError, State: c.state, Error: err.Error(), Retryable: true})
		if c.sess.Countdown.LimitSeconds > 0 && c.sess.Countdown.RemainingSeconds == 0 {
			c.startForced()
		}
		return err
	}

	c.complete(ctx, art, rep)
	return nil
}

// startForced submits whatever exists once time has run out. It runs at
// most once per loaded session and retries in the background.
func (c *Controller) startForced() {
	if c.forcedFired || c.submitting {
		return
	}
	c.forcedFired = true
	c.submitting = true
	c.sess.Countdown.Running = false

	c.recorders.StopActive(c.bg)
	c.drainRecordings()
	c.setState(model.SessionStateExpiredSubmitting)

	art := submission.Assemble(c.sess, true, c.clock.Now())
	pipeline := c.pipeline(c.bg, art)

	c.wg.Add(1)
	go c.runForced(pipeline, art)
}

func (c *Controller) runForced(pipeline *submission.Pipeline, art *model.SubmissionArtifact) {
	defer c.wg.Done()

	log := c.log.With().Str("assessment_id", art.AssessmentID).Logger()
	att := submission.NewAttempt(art)
	schedule := c.opts.Retry.BackOff()

	for n := 1; ; n++ {
		rep, err := pipeline.Run(c.bg, att)
		if err == nil {
			c.mu.Lock()
			c.submitting = false
			c.complete(c.bg, art, rep)
			c.mu.Unlock()
			return
		}

		metrics.SubmissionsTotal.WithLabelValues(metrics.Trigger(true), "failed").Inc()
		c.mu.Lock()
		c.lastErr = err
		c.publish(Update{Kind: UpdateError, State: c.state, Error: err.Error(), Retryable: true})
		c.mu.Unlock()

		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			c.giveUp(log, n, err)
			return
		}
		log.Warn().Err(err).Int("attempt", n).Dur("retry_in", delay).Msg("Forced submission failed, retrying")
		if err := c.sleep(c.bg, delay); err != nil {
			c.giveUp(log, n, err)
			return
		}
	}
}

// giveUp parks the session in Error. The snapshot stays, so loading the
// assessment again finds no time left and submits again.
func (c *Controller) giveUp(log zerolog.Logger, attempts int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submitting = false
	c.lastErr = &ForcedSubmitError{Attempts: attempts, Err: err}
	c.autosave(c.bg)
	c.setState(model.SessionStateError)
	c.publish(Update{Kind: UpdateError, State: c.state, Error: c.lastErr.Error(), Retryable: true})
	log.Error().Err(err).Int("attempts", attempts).Msg("Forced submission abandoned")
}

// complete records a finalized submission and clears local state.
func (c *Controller) complete(ctx context.Context, art *model.SubmissionArtifact, rep *submission.Report) {
	metrics.SubmissionsTotal.WithLabelValues(metrics.Trigger(art.Forced), "ok").Inc()

	c.degraded = rep.Degraded()
	c.lastErr = nil
	c.setState(model.SessionStateSubmitted)

	c.recorders.Clear(ctx)
	c.drainRecordings()
	if err := c.store.Delete(ctx, config.StoreKey.SessionSnapshotKey(art.AssessmentID)); err != nil {
		c.log.Warn().Err(err).Msg("Failed to delete session snapshot")
	}

	if c.sink != nil {
		receipt := model.Receipt{
			AssessmentID: art.AssessmentID,
			StudentID:    art.StudentID,
			MetadataRef:  rep.MetadataRef,
			Forced:       art.Forced,
			Degraded:     c.degraded,
			FinalizedAt:  c.clock.Now().UTC(),
		}
		if err := c.sink.Publish(ctx, receipt); err != nil {
			c.log.Warn().Err(err).Msg("Failed to queue submission receipt")
		}
	}

	c.publish(Update{Kind: UpdateSubmitted, State: c.state, Degraded: c.degraded})
	c.log.Info().
		Str("assessment_id", art.AssessmentID).
		Bool("forced", art.Forced).
		Int("degraded", len(c.degraded)).
		Msg("Session submitted")
}

// pipeline builds a pipeline over the selected payloads as they are now, so
// uploads never read recorder state outside the lock.
func (c *Controller) pipeline(ctx context.Context, art *model.SubmissionArtifact) *submission.Pipeline {
	payloads := payloadSet{}
	for _, qid := range art.RecordingOrder {
		p, err := c.recorders.SelectedPayload(ctx, qid)
		if err != nil {
			c.log.Warn().Err(err).Str("question_id", qid).Msg("Selected take has no payload")
			continue
		}
		payloads[qid] = p
	}
	return submission.NewPipeline(c.backend, payloads, c.log)
}

type payloadSet map[string][]byte

func (p payloadSet) SelectedPayload(_ context.Context, questionID string) ([]byte, error) {
	if b, ok := p[questionID]; ok {
		return b, nil
	}
	return nil, recording.ErrPayloadMissing
}

func autosaveFailed(log zerolog.Logger, assessmentID string, err error) {
	metrics.AutosaveFailures.Inc()
	log.Warn().Err(err).Str("assessment_id", assessmentID).Msg("Autosave failed")
}
