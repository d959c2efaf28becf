package service

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/backend"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/metrics"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/recording"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/session"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Session service errors.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSubmissionInFlight = errors.New("previous submission still in flight")
)

const defaultReopenWait = 15 * time.Second

// StoreFactory returns the persistence store of one browser tab.
type StoreFactory func(tabID string) store.Store

// NewStoreFactory picks the store adapter configured by STORE_DRIVER.
// rdb and db may be nil when their driver is not selected.
func NewStoreFactory(cfg *config.Config, rdb *redis.Client, db *sql.DB, log zerolog.Logger) (StoreFactory, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		if rdb == nil {
			return nil, errors.New("redis store selected without a redis client")
		}
		return func(tab string) store.Store {
			return store.NewRedisStore(rdb, tab, cfg.StoreTTL)
		}, nil
	case config.StoreDriverSQLite:
		if db == nil {
			return nil, errors.New("sqlite store selected without a database")
		}
		return func(tab string) store.Store {
			return store.NewSQLiteStore(db, tab, cfg.StoreTTL, log)
		}, nil
	case config.StoreDriverMemory:
		var mu sync.Mutex
		tabs := map[string]*store.MemoryStore{}
		return func(tab string) store.Store {
			mu.Lock()
			defer mu.Unlock()
			s, ok := tabs[tab]
			if !ok {
				s = store.NewMemoryStore()
				tabs[tab] = s
			}
			return s
		}, nil
	default:
		return nil, errors.New("unknown store driver: " + cfg.StoreDriver)
	}
}

// OpenParams identify the session to attach.
type OpenParams struct {
	TabID        string
	Token        string
	AssessmentID string
	StudentID    string
	Device       recording.Device
}

// SessionService attaches session controllers to tabs. A tab holds at most
// one controller per assessment.
type SessionService struct {
	cfg      *config.Config
	client   *backend.Client
	stores   StoreFactory
	receipts session.ReceiptSink
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]*session.Controller
	// retired holds replaced controllers until their submissions finish.
	retired map[string][]*session.Controller
}

// NewSessionService creates a new SessionService. receipts may be nil.
func NewSessionService(cfg *config.Config, client *backend.Client, stores StoreFactory, receipts session.ReceiptSink, log zerolog.Logger) *SessionService {
	return &SessionService{
		cfg:      cfg,
		client:   client,
		stores:   stores,
		receipts: receipts,
		log:      log.With().Str("component", "session_service").Logger(),
		active:   map[string]*session.Controller{},
		retired:  map[string][]*session.Controller{},
	}
}

func activeKey(tabID, assessmentID string) string {
	return tabID + "/" + assessmentID
}

// Open creates a controller for the tab and loads it. The controller is
// returned with the load error so the caller can render the error state.
func (s *SessionService) Open(ctx context.Context, p OpenParams) (*session.Controller, error) {
	client := s.client.WithToken(p.Token)
	ctrl := session.NewController(session.OptionsFromConfig(s.cfg.Session), session.Deps{
		Content:  client,
		Backend:  client,
		Store:    s.stores(p.TabID),
		Device:   p.Device,
		Receipts: s.receipts,
		Log:      s.log,
	})

	key := activeKey(p.TabID, p.AssessmentID)
	s.mu.Lock()
	prev := s.active[key]
	s.active[key] = ctrl
	if prev != nil {
		s.retired[key] = append(s.retired[key], prev)
	}
	s.mu.Unlock()
	if prev != nil {
		prev.Close(ctx)
	} else {
		metrics.ActiveSessions.Inc()
	}

	err := s.Load(ctx, ctrl, p.TabID, p.AssessmentID, p.StudentID)
	return ctrl, err
}

// Load loads ctrl once every controller it replaced in the tab has finished
// submitting. Until then the saved state still belongs to the old controller
// and loading it would submit the assessment a second time.
func (s *SessionService) Load(ctx context.Context, ctrl *session.Controller, tabID, assessmentID, studentID string) error {
	if err := s.settle(ctx, activeKey(tabID, assessmentID)); err != nil {
		return err
	}
	return ctrl.Load(ctx, assessmentID, studentID)
}

func (s *SessionService) settle(ctx context.Context, key string) error {
	s.mu.Lock()
	pending := slices.Clone(s.retired[key])
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		for _, c := range pending {
			c.Wait()
		}
		close(done)
	}()

	wait := s.cfg.Session.ReopenWait
	if wait <= 0 {
		wait = defaultReopenWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.log.Warn().Str("key", key).Msg("Reopen refused, previous submission still running")
		return ErrSubmissionInFlight
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var rest []*session.Controller
	for _, c := range s.retired[key] {
		if !slices.Contains(pending, c) {
			rest = append(rest, c)
		}
	}
	if len(rest) == 0 {
		delete(s.retired, key)
	} else {
		s.retired[key] = rest
	}
	return nil
}

// Get returns the controller attached for a tab and assessment.
func (s *SessionService) Get(tabID, assessmentID string) (*session.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.active[activeKey(tabID, assessmentID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ctrl, nil
}

// Release closes a controller and detaches it unless a newer one replaced it.
func (s *SessionService) Release(ctx context.Context, tabID, assessmentID string, ctrl *session.Controller) {
	ctrl.Close(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := activeKey(tabID, assessmentID)
	if s.active[key] == ctrl {
		delete(s.active, key)
		metrics.ActiveSessions.Dec()
	}
}

// RunClock ticks the controller once per second until ctx is done.
func (s *SessionService) RunClock(ctx context.Context, ctrl *session.Controller) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctrl.Tick(ctx)
		}
	}
}

// Shutdown closes every attached and retired controller and waits for
// running submissions to finish.
func (s *SessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ctrls := make([]*session.Controller, 0, len(s.active))
	for k, c := range s.active {
		ctrls = append(ctrls, c)
		delete(s.active, k)
	}
	for k, cs := range s.retired {
		ctrls = append(ctrls, cs...)
		delete(s.retired, k)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, c := range ctrls {
			c.Close(ctx)
			c.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Int("sessions", len(ctrls)).Msg("Sessions closed")
	case <-ctx.Done():
		s.log.Warn().Msg("Shutdown timed out with submissions in flight")
	}
}
