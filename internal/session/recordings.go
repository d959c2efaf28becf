package session

import (
	"context"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/metrics"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/playback"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/recording"
)

// StartCapture starts recording an answer to a speaking question.
func (c *Controller) StartCapture(ctx context.Context, questionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireSpeaking(questionID); err != nil {
		return err
	}
	err := c.recorders.StartCapture(ctx, questionID)
	c.drainRecordings()
	return err
}

// StopCapture turns the running capture into a take.
func (c *Controller) StopCapture(ctx context.Context, questionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireSpeaking(questionID); err != nil {
		return err
	}
	err := c.recorders.StopCapture(ctx, questionID)
	c.drainRecordings()
	return err
}

// WriteAudio appends a chunk to the running capture.
func (c *Controller) WriteAudio(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActive(); err != nil {
		return 0, err
	}
	return c.recorders.Write(p)
}

// SelectTake chooses which take answers a speaking question.
func (c *Controller) SelectTake(ctx context.Context, questionID, takeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireSpeaking(questionID); err != nil {
		return err
	}
	err := c.recorders.Manager(questionID).SelectTake(ctx, takeID)
	c.drainRecordings()
	return err
}

// DeleteTake removes a take of a speaking question.
func (c *Controller) DeleteTake(ctx context.Context, questionID, takeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireSpeaking(questionID); err != nil {
		return err
	}
	err := c.recorders.Manager(questionID).DeleteTake(ctx, takeID)
	c.drainRecordings()
	return err
}

// TakePlayback issues a handle for listening back to a take.
func (c *Controller) TakePlayback(questionID, takeID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireSpeaking(questionID); err != nil {
		return "", err
	}
	return c.recorders.Manager(questionID).PlaybackHandle(takeID)
}

// ResolvePlayback returns the audio behind a take playback handle.
func (c *Controller) ResolvePlayback(ctx context.Context, handle string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorders == nil {
		return nil, recording.ErrTakeNotFound
	}
	return c.recorders.ResolveHandle(ctx, handle)
}

// TogglePlayback plays or pauses a listening resource, charging a credit
// for every fresh play.
func (c *Controller) TogglePlayback(resource string) (playback.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActive(); err != nil {
		return playback.State{}, err
	}
	st, err := c.playback.Toggle(resource)
	if err != nil {
		metrics.PlaybackRejections.Inc()
		return st, err
	}
	c.publish(Update{Kind: UpdatePlayback, State: c.state, Playback: &st})
	return st, nil
}

// PlaybackEnded marks a listening resource as played to the end.
func (c *Controller) PlaybackEnded(resource string) (playback.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return playback.State{}, ErrNotActive
	}
	st := c.playback.OnEnded(resource)
	c.publish(Update{Kind: UpdatePlayback, State: c.state, Playback: &st})
	return st, nil
}

func (c *Controller) requireSpeaking(questionID string) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	q, ok := c.sess.Question(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if !q.IsSpeaking() {
		return ErrNotSpeaking
	}
	return nil
}

// drainRecordings applies queued recording events to the answer map.
func (c *Controller) drainRecordings() {
	for _, ev := range c.recorders.Drain() {
		c.applyRecording(ev)
	}
}

func (c *Controller) applyRecording(ev recording.Event) {
	if c.sess == nil {
		return
	}
	if ev.SelectedID == "" {
		delete(c.sess.Answers, ev.QuestionID)
	} else {
		c.sess.Answers[ev.QuestionID] = model.Answer{QuestionID: ev.QuestionID, TakeID: ev.SelectedID}
	}
	c.publish(Update{
		Kind:           UpdateTakes,
		State:          c.state,
		QuestionID:     ev.QuestionID,
		SelectedTakeID: ev.SelectedID,
		Takes:          ev.Takes,
	})
}
