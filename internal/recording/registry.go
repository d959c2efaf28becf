package recording

import (
	"context"
	"errors"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/store"
	"github.com/rs/zerolog"
)

// Registry holds one Manager per speaking question and keeps the input
// device with at most one of them.
type Registry struct {
	device Device
	store  store.Store
	opts   Options
	log    zerolog.Logger
	events *queue

	managers map[string]*Manager
	active   string
}

// NewRegistry creates an empty registry.
func NewRegistry(device Device, st store.Store, opts Options, log zerolog.Logger) *Registry {
	return &Registry{
		device:   device,
		store:    st,
		opts:     opts,
		log:      log.With().Str("component", "recording").Logger(),
		events:   &queue{},
		managers: map[string]*Manager{},
	}
}

// Drain returns the recording changes queued since the last call, oldest
// first. Consumers drain after every call into the registry.
func (r *Registry) Drain() []Event { return r.events.drain() }

// Manager returns the manager for a question, creating it on first use.
func (r *Registry) Manager(questionID string) *Manager {
	m, ok := r.managers[questionID]
	if !ok {
		m = newManager(questionID, r.opts, r.device, r.store, r.events, r.log)
		r.managers[questionID] = m
	}
	return m
}

// Active returns the question currently holding the device, or "".
func (r *Registry) Active() string { return r.active }

// StartCapture starts recording a question, stopping any other capture first.
func (r *Registry) StartCapture(ctx context.Context, questionID string) error {
	if r.active != "" && r.active != questionID {
		r.StopActive(ctx)
	}
	if err := r.Manager(questionID).StartCapture(ctx); err != nil {
		return err
	}
	r.active = questionID
	return nil
}

// StopCapture finishes the capture of a question.
func (r *Registry) StopCapture(ctx context.Context, questionID string) error {
	m := r.Manager(questionID)
	_, err := m.StopCapture(ctx)
	if !m.Capturing() && r.active == questionID {
		r.active = ""
	}
	return err
}

// StopActive ends whichever capture is running. A capture too short to
// keep is released without a take.
func (r *Registry) StopActive(ctx context.Context) {
	if r.active == "" {
		return
	}
	m := r.managers[r.active]
	r.active = ""
	if _, err := m.StopCapture(ctx); err != nil && !errors.Is(err, ErrRecordingTooShort) {
		r.log.Warn().Err(err).Str("question_id", m.questionID).Msg("Stopping active capture failed")
		m.Release()
	}
}

// ReleaseAll drops any running capture without producing a take.
func (r *Registry) ReleaseAll() {
	for _, m := range r.managers {
		m.Release()
	}
	r.active = ""
}

// Write routes an audio chunk to the capturing manager.
func (r *Registry) Write(p []byte) (int, error) {
	if r.active == "" {
		return 0, ErrNotCapturing
	}
	return r.managers[r.active].Write(p)
}

// Elapsed returns the seconds recorded by the running capture, or 0.
func (r *Registry) Elapsed() int {
	if r.active == "" {
		return 0
	}
	return r.managers[r.active].Elapsed()
}

// Tick advances the elapsed counter of the running capture.
func (r *Registry) Tick() {
	if r.active != "" {
		r.managers[r.active].Tick()
	}
}

// Restore rebuilds every listed question from the store.
func (r *Registry) Restore(ctx context.Context, questionIDs []string) {
	for _, id := range questionIDs {
		if err := r.Manager(id).RestoreFromStore(ctx); err != nil {
			r.log.Warn().Err(err).Str("question_id", id).Msg("Recording restore failed")
		}
	}
}

// SelectedPayload returns the selected take's audio for a question.
func (r *Registry) SelectedPayload(ctx context.Context, questionID string) ([]byte, error) {
	m, ok := r.managers[questionID]
	if !ok {
		return nil, ErrTakeNotFound
	}
	return m.SelectedPayload(ctx)
}

// ResolveHandle finds the audio behind a playback handle on any question.
func (r *Registry) ResolveHandle(ctx context.Context, handle string) ([]byte, error) {
	for _, m := range r.managers {
		if _, ok := m.handles[handle]; ok {
			return m.ResolveHandle(ctx, handle)
		}
	}
	return nil, ErrTakeNotFound
}

// Clear removes every take of every question.
func (r *Registry) Clear(ctx context.Context) {
	for _, m := range r.managers {
		m.Clear(ctx)
	}
	r.active = ""
}
