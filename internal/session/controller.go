// Package session runs one timed assessment attempt: loading, countdown,
// answers, autosave, recordings, playback limits and submission.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/content"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/playback"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/recording"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/store"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/submission"
	"github.com/rs/zerolog"
)

const updateBuffer = 64

// ContentSource fetches assessment metadata and question content.
type ContentSource interface {
	Assessment(ctx context.Context, assessmentID string) (*model.Assessment, error)
	Content(ctx context.Context, ref string) ([]byte, error)
}

// ReceiptSink receives a receipt for every finalized submission.
type ReceiptSink interface {
	Publish(ctx context.Context, r model.Receipt) error
}

// Options tune the controller.
type Options struct {
	AutosaveInterval time.Duration
	LoadGrace        time.Duration
	DefaultMaxPlays  int
	DefaultMaxTakes  int
	Retry            submission.RetryPolicy
}

// OptionsFromConfig maps the session configuration to controller options.
func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		AutosaveInterval: cfg.AutosaveInterval,
		LoadGrace:        cfg.LoadGrace,
		DefaultMaxPlays:  cfg.DefaultMaxPlays,
		DefaultMaxTakes:  cfg.DefaultMaxTakes,
		Retry: submission.RetryPolicy{
			MaxAttempts: cfg.ForcedRetryMax,
			Base:        cfg.ForcedRetryBase,
			MaxDelay:    cfg.ForcedRetryMaxGap,
		},
	}
}

// Deps are the collaborators of a controller. Receipts, Clock and Sleep
// are optional.
type Deps struct {
	Content  ContentSource
	Backend  submission.Backend
	Store    store.Store
	Device   recording.Device
	Receipts ReceiptSink
	Clock    Clock
	Sleep    SleepFunc
	Log      zerolog.Logger
}

// Controller owns one session. Every operation is serialized on mu;
// network calls of a submission run outside it.
type Controller struct {
	mu sync.Mutex

	opts    Options
	content ContentSource
	backend submission.Backend
	store   store.Store
	device  recording.Device
	sink    ReceiptSink
	clock   Clock
	sleep   SleepFunc
	log     zerolog.Logger

	// bg outlives Close so started uploads can finish.
	bg context.Context
	wg sync.WaitGroup

	state     model.SessionState
	sess      *model.Session
	recorders *recording.Registry
	playback  *playback.Guard

	submitting    bool
	forcedFired   bool
	pendingForced bool
	graceTicks    int
	sinceAutosave int
	closed        bool

	lastErr  error
	degraded []string

	updates chan Update
}

// NewController creates an idle controller. Call Load to start a session.
func NewController(opts Options, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	return &Controller{
		opts:     opts,
		content:  deps.Content,
		backend:  deps.Backend,
		store:    deps.Store,
		device:   deps.Device,
		sink:     deps.Receipts,
		clock:    deps.Clock,
		sleep:    deps.Sleep,
		log:      deps.Log.With().Str("component", "session").Logger(),
		bg:       context.Background(),
		state:    model.SessionStateLoading,
		playback: playback.NewGuard(opts.DefaultMaxPlays),
		updates:  make(chan Update, updateBuffer),
	}
}

// Updates streams state changes to the host. Slow consumers lose updates;
// View always returns the current state.
func (c *Controller) Updates() <-chan Update { return c.updates }

// State returns the lifecycle state.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last surfaced error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Wait blocks until running submissions, voluntary or forced, have finished.
func (c *Controller) Wait() { c.wg.Wait() }

// View returns a copy of the session for rendering.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{State: c.state, Degraded: c.degraded}
	if c.lastErr != nil {
		v.Error = c.lastErr.Error()
		v.Retryable = c.errRetryable(c.lastErr)
	}
	if c.sess == nil {
		return v
	}
	v.AssessmentID = c.sess.AssessmentID
	v.Title = c.sess.Title
	v.Kind = c.sess.Kind
	v.Questions = c.sess.Questions
	v.Current = c.sess.Current
	v.Countdown = c.sess.Countdown
	v.Answers = make(map[string]model.Answer, len(c.sess.Answers))
	for k, a := range c.sess.Answers {
		v.Answers[k] = a
	}
	v.Takes = map[string][]model.Take{}
	for _, q := range c.sess.Questions {
		if q.IsSpeaking() {
			v.Takes[q.ID] = c.recorders.Manager(q.ID).Takes()
		}
	}
	v.Capturing = c.recorders.Active()
	v.CaptureSeconds = c.recorders.Elapsed()
	v.Playback = c.playbackStates()
	return v
}

// Load fetches metadata and content and restores any saved state for the
// assessment. A restore whose time already ran out submits after the
// load grace window.
func (c *Controller) Load(ctx context.Context, assessmentID, studentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.submitting {
		return ErrSubmitting
	}
	// A loaded session is never rebuilt in place: that would drop unsaved
	// answers and hand out fresh playback credits.
	switch c.state {
	case model.SessionStateLoading, model.SessionStateError:
	default:
		return ErrAlreadyLoaded
	}
	if c.recorders != nil {
		c.recorders.ReleaseAll()
	}

	log := c.log.With().Str("assessment_id", assessmentID).Str("student_id", studentID).Logger()
	c.setState(model.SessionStateLoading)
	c.sess, c.lastErr, c.degraded = nil, nil, nil
	c.forcedFired, c.pendingForced = false, false

	meta, err := c.content.Assessment(ctx, assessmentID)
	if err != nil {
		return c.failLoad(log, &ContentLoadError{Stage: LoadStageMetadata, Retryable: retryable(err), Err: err})
	}
	kind, err := model.ParseAssessmentKind(meta.Kind)
	if err != nil {
		return c.failLoad(log, &ContentLoadError{Stage: LoadStageMetadata, Retryable: false, Err: err})
	}
	raw, err := c.content.Content(ctx, meta.ContentRef)
	if err != nil {
		return c.failLoad(log, &ContentLoadError{Stage: LoadStageContent, Retryable: retryable(err), Err: err})
	}
	doc, err := content.Parse(raw)
	if err != nil {
		return c.failLoad(log, &ContentLoadError{Stage: LoadStageContent, Retryable: false, Err: err})
	}

	// The question-set limit is more specific than the assessment's.
	limitMinutes := meta.TimeLimitMinutes
	if doc.Settings.TimeLimitMinutes > 0 {
		limitMinutes = doc.Settings.TimeLimitMinutes
	}

	now := c.clock.Now()
	sess := &model.Session{
		AssessmentID: assessmentID,
		StudentID:    studentID,
		Kind:         kind,
		Title:        meta.Title,
		Questions:    doc.Questions,
		Answers:      map[string]model.Answer{},
		Countdown:    model.Countdown{LimitSeconds: limitMinutes * 60},
		StartedAt:    now,
		Settings:     doc.Settings,
	}

	c.restoreSnapshot(ctx, sess, now, log)

	c.sess = sess
	c.recorders = recording.NewRegistry(c.device, c.store, c.recordingOptions(doc.Settings), log)
	c.resetPlayback(sess.Questions, c.maxPlays(doc.Settings))

	var speaking []string
	for _, q := range sess.Questions {
		if q.IsSpeaking() {
			speaking = append(speaking, q.ID)
		}
	}
	c.recorders.Restore(ctx, speaking)
	c.drainRecordings()

	if sess.Countdown.LimitSeconds > 0 {
		sess.Countdown.RemainingSeconds = c.derivedRemaining(now)
		if sess.Countdown.RemainingSeconds == 0 {
			c.pendingForced = true
			c.graceTicks = int(c.opts.LoadGrace / time.Second)
			log.Info().Msg("Restored session has no time left, submitting after load")
		} else {
			sess.Countdown.Running = true
		}
	}

	c.sinceAutosave = 0
	c.autosave(ctx)
	c.setState(model.SessionStateActive)
	log.Info().
		Str("kind", string(kind)).
		Int("questions", len(sess.Questions)).
		Int("remaining", sess.Countdown.RemainingSeconds).
		Msg("Session loaded")
	return nil
}

func (c *Controller) restoreSnapshot(ctx context.Context, sess *model.Session, now time.Time, log zerolog.Logger) {
	key := config.StoreKey.SessionSnapshotKey(sess.AssessmentID)

	var snap model.Snapshot
	err := store.GetJSON(ctx, c.store, key, &snap)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		log.Warn().Err(err).Msg("Unreadable session snapshot, starting fresh")
		return
	case snap.StudentID != "" && snap.StudentID != sess.StudentID:
		log.Warn().Msg("Snapshot belongs to another student, discarding")
		if err := c.store.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Msg("Failed to delete foreign snapshot")
		}
		return
	}

	for id, a := range snap.Answers {
		q, ok := sess.Question(id)
		if !ok || q.IsSpeaking() {
			continue
		}
		a.QuestionID = id
		a.TakeID = ""
		sess.Answers[id] = a
	}
	if snap.Current >= 0 && snap.Current < len(sess.Questions) {
		sess.Current = snap.Current
	}

	switch {
	case snap.StartedAt > 0:
		sess.StartedAt = time.UnixMilli(snap.StartedAt)
	case snap.RemainingSeconds != nil:
		// Older snapshots kept a counter instead of a start time.
		used := sess.Countdown.LimitSeconds - *snap.RemainingSeconds
		sess.StartedAt = now.Add(-time.Duration(used) * time.Second)
		log.Info().Int("remaining", *snap.RemainingSeconds).Msg("Migrated legacy snapshot")
	}
	log.Info().Int("answers", len(sess.Answers)).Msg("Session snapshot restored")
}

func (c *Controller) failLoad(log zerolog.Logger, err *ContentLoadError) error {
	c.lastErr = err
	c.setState(model.SessionStateError)
	c.publish(Update{Kind: UpdateError, State: c.state, Error: err.Error(), Retryable: err.Retryable})
	log.Error().Err(err.Err).Str("stage", string(err.Stage)).Bool("retryable", err.Retryable).Msg("Session load failed")
	return err
}

// SetAnswer records the answer to a non-speaking question. It is persisted
// by the next autosave.
func (c *Controller) SetAnswer(questionID string, value json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActive(); err != nil {
		return err
	}
	q, ok := c.sess.Question(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if q.IsSpeaking() {
		return ErrSpeakingAnswer
	}
	c.sess.Answers[questionID] = model.Answer{QuestionID: questionID, Value: value}
	return nil
}

// Navigate moves to another question. Any running capture is stopped.
func (c *Controller) Navigate(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActive(); err != nil {
		return err
	}
	if index < 0 || index >= len(c.sess.Questions) {
		return ErrInvalidIndex
	}
	c.recorders.StopActive(ctx)
	c.drainRecordings()
	c.sess.Current = index
	c.publish(c.stateUpdate())
	return nil
}

// Tick advances the session by one second.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.sess == nil {
		return
	}
	switch c.state {
	case model.SessionStateActive, model.SessionStateSubmitting, model.SessionStateExpiredSubmitting:
	default:
		return
	}

	c.recorders.Tick()

	cd := &c.sess.Countdown
	switch {
	case c.pendingForced:
		if c.graceTicks > 0 {
			c.graceTicks--
		}
		if c.graceTicks == 0 {
			c.pendingForced = false
			c.startForced()
		}
	case cd.Running:
		remaining := min(cd.RemainingSeconds-1, c.derivedRemaining(c.clock.Now()))
		cd.RemainingSeconds = max(remaining, 0)
		c.publish(Update{Kind: UpdateTick, State: c.state, RemainingSeconds: cd.RemainingSeconds})
		if cd.RemainingSeconds == 0 {
			cd.Running = false
			c.log.Info().Str("assessment_id", c.sess.AssessmentID).Msg("Time expired")
			// A voluntary submission in flight decides on its own failure.
			if !c.submitting {
				c.startForced()
			}
		}
	}

	if c.opts.AutosaveInterval > 0 {
		c.sinceAutosave++
		if time.Duration(c.sinceAutosave)*time.Second >= c.opts.AutosaveInterval {
			c.autosave(ctx)
		}
	}
}

// Autosave writes the session snapshot now. Failures are only logged.
func (c *Controller) Autosave(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autosave(ctx)
}

func (c *Controller) autosave(ctx context.Context) {
	c.sinceAutosave = 0
	if c.sess == nil || c.closed || c.state == model.SessionStateSubmitted {
		return
	}
	snap := model.Snapshot{
		StudentID: c.sess.StudentID,
		Answers:   c.sess.Answers,
		Current:   c.sess.Current,
		StartedAt: c.sess.StartedAt.UnixMilli(),
	}
	if err := store.PutJSON(ctx, c.store, config.StoreKey.SessionSnapshotKey(c.sess.AssessmentID), snap); err != nil {
		autosaveFailed(c.log, c.sess.AssessmentID, err)
		return
	}
	c.sess.LastAutosave = c.clock.Now()
}

// Exit abandons the session without submitting and clears saved state.
func (c *Controller) Exit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.submitting {
		return ErrSubmitting
	}
	if c.sess == nil {
		c.closed = true
		return nil
	}
	c.recorders.Clear(ctx)
	c.drainRecordings()
	if err := c.store.Delete(ctx, config.StoreKey.SessionSnapshotKey(c.sess.AssessmentID)); err != nil {
		c.log.Warn().Err(err).Msg("Failed to delete session snapshot")
	}
	c.closed = true
	c.log.Info().Str("assessment_id", c.sess.AssessmentID).Msg("Session exited without submitting")
	return nil
}

// Close tears the session down: the capture device is released and ticks
// stop. A forced submission already running is left to finish.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.recorders != nil {
		c.recorders.ReleaseAll()
		c.drainRecordings()
	}
	if c.state == model.SessionStateActive {
		c.autosave(ctx)
	}
	c.closed = true
}

func (c *Controller) requireActive() error {
	if c.closed {
		return ErrClosed
	}
	if c.state != model.SessionStateActive || c.sess == nil {
		return ErrNotActive
	}
	return nil
}

// derivedRemaining is limit - (now - start), never negative.
func (c *Controller) derivedRemaining(now time.Time) int {
	elapsed := int(now.Sub(c.sess.StartedAt) / time.Second)
	return max(c.sess.Countdown.LimitSeconds-elapsed, 0)
}

func (c *Controller) recordingOptions(s model.ContentSettings) recording.Options {
	if !s.MultiTake {
		return recording.Options{Mode: recording.ModeSingle}
	}
	maxTakes := s.MaxTakes
	if maxTakes <= 0 {
		maxTakes = c.opts.DefaultMaxTakes
	}
	return recording.Options{Mode: recording.ModeMulti, MaxTakes: maxTakes}
}

// resetPlayback starts a new credit ledger. Audio contexts carrying their
// own limit override the content default.
func (c *Controller) resetPlayback(questions []model.Question, limit int) {
	c.playback.Reset(limit)
	for _, q := range questions {
		if res, ok := q.AudioResource(); ok && q.MaxPlays > 0 {
			c.playback.SetLimit(res, q.MaxPlays)
		}
	}
}

func (c *Controller) playbackStates() []playback.State {
	var out []playback.State
	seen := map[string]bool{}
	for _, q := range c.sess.Questions {
		res, ok := q.AudioResource()
		if !ok {
			continue
		}
		st := c.playback.State(res)
		if seen[st.Resource] {
			continue
		}
		seen[st.Resource] = true
		out = append(out, st)
	}
	return out
}

func (c *Controller) maxPlays(s model.ContentSettings) int {
	if s.MaxPlays > 0 {
		return s.MaxPlays
	}
	return c.opts.DefaultMaxPlays
}

func (c *Controller) setState(s model.SessionState) {
	if c.state == s {
		return
	}
	c.state = s
	c.publish(c.stateUpdate())
}

func (c *Controller) stateUpdate() Update {
	u := Update{Kind: UpdateState, State: c.state}
	if c.sess != nil {
		u.RemainingSeconds = c.sess.Countdown.RemainingSeconds
		u.Current = c.sess.Current
	}
	return u
}

func (c *Controller) publish(u Update) {
	select {
	case c.updates <- u:
	default:
		c.log.Debug().Str("kind", string(u.Kind)).Msg("Update dropped, consumer too slow")
	}
}

func (c *Controller) errRetryable(err error) bool {
	var le *ContentLoadError
	if errors.As(err, &le) {
		return le.Retryable
	}
	var ve *ValidationError
	return !errors.As(err, &ve)
}
