// Package recording captures, stores and selects audio takes for speaking
// questions.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recording errors.
var (
	ErrAlreadyCapturing  = errors.New("capture already in progress")
	ErrNotCapturing      = errors.New("no capture in progress")
	ErrCapacityReached   = errors.New("maximum number of takes reached")
	ErrRecordingTooShort = errors.New("recording too short")
	ErrTakeNotFound      = errors.New("take not found")
	ErrPayloadMissing    = errors.New("take payload missing")
	ErrTakeNotSaved      = errors.New("take could not be saved")
)

// Mode selects between one replaceable take and a bounded list of takes.
type Mode int

const (
	ModeSingle Mode = iota
	ModeMulti
)

// Options configure a Manager.
type Options struct {
	Mode     Mode
	MaxTakes int
	// MinBytes is the smallest payload accepted as a take.
	MinBytes int
}

// Manager owns the takes of one speaking question.
type Manager struct {
	questionID string
	opts       Options
	device     Device
	store      store.Store
	events     *queue
	log        zerolog.Logger
	now        func() time.Time

	takes    []model.Take // oldest first
	selected string
	payloads map[string][]byte
	handles  map[string]string // playback handle -> take id

	capture Capture
	buf     bytes.Buffer
	elapsed int
}

func newManager(questionID string, opts Options, device Device, st store.Store, events *queue, log zerolog.Logger) *Manager {
	if opts.MinBytes <= 0 {
		opts.MinBytes = 1
	}
	if opts.Mode == ModeSingle {
		opts.MaxTakes = 1
	}
	return &Manager{
		questionID: questionID,
		opts:       opts,
		device:     device,
		store:      st,
		events:     events,
		log:        log.With().Str("question_id", questionID).Logger(),
		now:        time.Now,
		payloads:   map[string][]byte{},
		handles:    map[string]string{},
	}
}

// Capturing reports whether the device is held.
func (m *Manager) Capturing() bool { return m.capture != nil }

// Elapsed returns the seconds recorded by the running capture.
func (m *Manager) Elapsed() int { return m.elapsed }

// Takes returns a copy of the take list, oldest first.
func (m *Manager) Takes() []model.Take {
	out := make([]model.Take, len(m.takes))
	copy(out, m.takes)
	return out
}

// Selected returns the selected take id, or "".
func (m *Manager) Selected() string { return m.selected }

// StartCapture acquires the input device and starts buffering audio.
// In single-take mode an existing take is kept until the new one is stored.
func (m *Manager) StartCapture(ctx context.Context) error {
	if m.capture != nil {
		return ErrAlreadyCapturing
	}
	if m.opts.Mode == ModeMulti && m.opts.MaxTakes > 0 && len(m.takes) >= m.opts.MaxTakes {
		return ErrCapacityReached
	}

	c, err := m.device.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	m.capture = c
	m.buf.Reset()
	m.elapsed = 0
	m.emit(EventCaptureStarted)
	m.log.Debug().Msg("Capture started")
	return nil
}

// Write appends one chunk of captured audio.
func (m *Manager) Write(p []byte) (int, error) {
	if m.capture == nil {
		return 0, ErrNotCapturing
	}
	return m.buf.Write(p)
}

// Tick advances the elapsed-time counter of a running capture by one second.
func (m *Manager) Tick() {
	if m.capture != nil {
		m.elapsed++
	}
}

// StopCapture turns the buffered audio into a take, releases the device and
// persists the payload. The new take becomes the selected one. When the
// payload cannot be stored the take is discarded and the previous takes and
// selection stay as they were.
func (m *Manager) StopCapture(ctx context.Context) (model.Take, error) {
	if m.capture == nil {
		return model.Take{}, ErrNotCapturing
	}

	payload := bytes.Clone(m.buf.Bytes())
	elapsed := m.elapsed
	m.releaseDevice()

	if len(payload) < m.opts.MinBytes {
		m.log.Info().Int("bytes", len(payload)).Msg("Capture rejected as too short")
		return model.Take{}, ErrRecordingTooShort
	}

	take := model.Take{
		ID:              uuid.NewString(),
		QuestionID:      m.questionID,
		DurationSeconds: elapsed,
		CreatedAt:       m.now().UTC(),
		Size:            len(payload),
	}

	if err := m.putPayload(ctx, take.ID, payload); err != nil {
		m.log.Warn().Err(err).Str("take_id", take.ID).Msg("Take discarded, payload not stored")
		m.emit(EventCaptureStopped)
		return model.Take{}, fmt.Errorf("%w: %v", ErrTakeNotSaved, err)
	}
	m.payloads[take.ID] = payload

	var superseded []model.Take
	if m.opts.Mode == ModeSingle {
		superseded = m.takes
		m.takes = []model.Take{take}
	} else {
		m.takes = append(m.takes, take)
	}
	m.selected = take.ID
	m.persistMeta(ctx)

	// The replacement is durable by now, so the question never has zero
	// valid takes in the store.
	for _, old := range superseded {
		m.dropPayload(ctx, old.ID, true)
	}

	m.emit(EventCaptureStopped)
	m.log.Info().
		Str("take_id", take.ID).
		Int("duration", take.DurationSeconds).
		Int("bytes", take.Size).
		Msg("Take recorded")
	return take, nil
}

// Release drops a running capture without producing a take.
func (m *Manager) Release() {
	if m.capture == nil {
		return
	}
	m.releaseDevice()
	m.emit(EventCaptureStopped)
}

// SelectTake marks one take as the question's answer.
func (m *Manager) SelectTake(ctx context.Context, takeID string) error {
	if m.indexOf(takeID) < 0 {
		return ErrTakeNotFound
	}
	if m.selected == takeID {
		return nil
	}
	m.selected = takeID
	m.persistMeta(ctx)
	m.emit(EventTakeSelected)
	return nil
}

// DeleteTake removes a take and its payload. If it was selected, the newest
// remaining take is selected instead.
func (m *Manager) DeleteTake(ctx context.Context, takeID string) error {
	i := m.indexOf(takeID)
	if i < 0 {
		return ErrTakeNotFound
	}

	for h, id := range m.handles {
		if id == takeID {
			delete(m.handles, h)
		}
	}
	m.dropPayload(ctx, takeID, true)
	m.takes = append(m.takes[:i], m.takes[i+1:]...)

	if m.selected == takeID {
		m.selected = ""
		if n := len(m.takes); n > 0 {
			m.selected = m.takes[n-1].ID
		}
	}
	m.persistMeta(ctx)
	m.emit(EventTakeDeleted)
	return nil
}

// RestoreFromStore rebuilds the take list and selection after a reload.
// Takes whose payload cannot be read are dropped.
func (m *Manager) RestoreFromStore(ctx context.Context) error {
	var meta model.RecordingMeta
	err := store.GetJSON(ctx, m.store, config.StoreKey.RecordingMetaKey(m.questionID), &meta)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read recording meta: %w", err)
	}

	kept := make([]model.Take, 0, len(meta.Takes))
	for _, t := range meta.Takes {
		payload, err := store.GetBlob(ctx, m.store, config.StoreKey.RecordingPayloadKey(m.questionID, t.ID))
		if err != nil || len(payload) == 0 {
			m.log.Warn().Err(err).Str("take_id", t.ID).Msg("Dropping take without payload")
			continue
		}
		m.payloads[t.ID] = payload
		kept = append(kept, t)
	}

	if m.opts.Mode == ModeSingle && len(kept) > 1 {
		kept = kept[len(kept)-1:]
	}

	m.takes = kept
	m.selected = ""
	for _, t := range kept {
		if t.ID == meta.SelectedID {
			m.selected = t.ID
		}
	}
	if m.selected == "" && len(kept) > 0 {
		m.selected = kept[len(kept)-1].ID
	}

	if len(kept) != len(meta.Takes) || m.selected != meta.SelectedID {
		m.persistMeta(ctx)
	}
	m.emit(EventRestored)
	return nil
}

// SelectedPayload returns the audio of the selected take.
func (m *Manager) SelectedPayload(ctx context.Context) ([]byte, error) {
	if m.selected == "" {
		return nil, ErrTakeNotFound
	}
	return m.payload(ctx, m.selected)
}

// PlaybackHandle issues a transient handle for listening back to a take.
// Handles die with the take.
func (m *Manager) PlaybackHandle(takeID string) (string, error) {
	if m.indexOf(takeID) < 0 {
		return "", ErrTakeNotFound
	}
	h := uuid.NewString()
	m.handles[h] = takeID
	return h, nil
}

// ResolveHandle returns the audio behind a playback handle.
func (m *Manager) ResolveHandle(ctx context.Context, handle string) ([]byte, error) {
	id, ok := m.handles[handle]
	if !ok {
		return nil, ErrTakeNotFound
	}
	return m.payload(ctx, id)
}

// Clear forgets every take and removes all persisted state.
func (m *Manager) Clear(ctx context.Context) {
	if m.capture != nil {
		m.releaseDevice()
	}
	for _, t := range m.takes {
		m.dropPayload(ctx, t.ID, true)
	}
	m.takes = nil
	m.selected = ""
	m.handles = map[string]string{}
	if err := m.store.Delete(ctx, config.StoreKey.RecordingMetaKey(m.questionID)); err != nil {
		m.log.Warn().Err(err).Msg("Failed to delete recording meta")
	}
	m.emit(EventCleared)
}

func (m *Manager) payload(ctx context.Context, takeID string) ([]byte, error) {
	if p, ok := m.payloads[takeID]; ok {
		return p, nil
	}
	p, err := store.GetBlob(ctx, m.store, config.StoreKey.RecordingPayloadKey(m.questionID, takeID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMissing, err)
	}
	m.payloads[takeID] = p
	return p, nil
}

func (m *Manager) indexOf(takeID string) int {
	for i, t := range m.takes {
		if t.ID == takeID {
			return i
		}
	}
	return -1
}

func (m *Manager) releaseDevice() {
	if err := m.capture.Release(); err != nil {
		m.log.Warn().Err(err).Msg("Device release failed")
	}
	m.capture = nil
	m.buf.Reset()
	m.elapsed = 0
}

func (m *Manager) putPayload(ctx context.Context, takeID string, payload []byte) error {
	return store.PutBlob(ctx, m.store, config.StoreKey.RecordingPayloadKey(m.questionID, takeID), payload)
}

// dropPayload removes a payload from memory, and from the store when
// fromStore is set.
func (m *Manager) dropPayload(ctx context.Context, takeID string, fromStore bool) {
	delete(m.payloads, takeID)
	if !fromStore {
		return
	}
	if err := m.store.Delete(ctx, config.StoreKey.RecordingPayloadKey(m.questionID, takeID)); err != nil {
		m.log.Warn().Err(err).Str("take_id", takeID).Msg("Failed to delete take payload")
	}
}

func (m *Manager) persistMeta(ctx context.Context) {
	meta := model.RecordingMeta{Takes: m.takes, SelectedID: m.selected}
	if err := store.PutJSON(ctx, m.store, config.StoreKey.RecordingMetaKey(m.questionID), meta); err != nil {
		m.log.Warn().Err(err).Msg("Failed to persist recording meta")
	}
}

func (m *Manager) emit(kind EventKind) {
	m.events.push(Event{
		Kind:       kind,
		QuestionID: m.questionID,
		SelectedID: m.selected,
		Takes:      m.Takes(),
	})
}
