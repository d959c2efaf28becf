package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/backend"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/middleware"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/playback"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/recording"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/response"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/service"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type portal struct {
	mu      sync.Mutex
	answers map[string]any
}

func (p *portal) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /assessments/a1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Assessment{ID: "a1", Title: "Quiz", Kind: "quiz", TimeLimitMinutes: 15, ContentRef: "content/a1"})
	})
	mux.HandleFunc("GET /content/a1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"questions":[{"id":"q1","type":"short_answer"},{"id":"q2","type":"essay","order":1}]}`))
	})
	mux.HandleFunc("POST /submissions/answers", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&p.answers)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHost(t *testing.T, p *portal) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWTSecret:   "test-secret",
		StoreDriver: config.StoreDriverMemory,
		Session: config.SessionConfig{
			AutosaveInterval: 30 * time.Second,
			DefaultMaxTakes:  3,
			ForcedRetryMax:   3,
			ForcedRetryBase:  time.Millisecond,
		},
	}
	stores, err := service.NewStoreFactory(cfg, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	client := backend.New(backend.Config{BaseURL: p.server(t).URL, Timeout: 5 * time.Second})
	sessions := service.NewSessionService(cfg, client, stores, nil, zerolog.Nop())
	auth := service.NewAuthService(cfg)

	h := NewWSHandler(sessions, middleware.NewRateLimiter(100, time.Second), zerolog.Nop(), nil)
	r := gin.New()
	r.GET("/ws/v1/student/assessments/:assessment_id/stream", middleware.RequireStudentJWT(auth), h.SessionStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	token, err := auth.GenerateStudentToken("s1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return srv, token
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/assessments/a1/stream?tab=tab-1&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips messages until one carries the wanted event.
func readUntil(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if msg["event"] == event {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSessionStreamAnswerAndSubmit(t *testing.T) {
	p := &portal{}
	srv, token := newTestHost(t, p)
	conn := dial(t, srv, token)

	view := readUntil(t, conn, "view")["view"].(map[string]any)
	if view["state"] != string(model.SessionStateActive) {
		t.Fatalf("state after connect = %v", view["state"])
	}

	send(t, conn, map[string]any{"action": "set_answer", "question_id": "q1", "value": "paris"})
	if ack := readUntil(t, conn, "ack"); ack["action"] != "set_answer" {
		t.Fatalf("ack = %v", ack)
	}

	send(t, conn, map[string]any{"action": "set_answer", "question_id": "nope", "value": "x"})
	if e := readUntil(t, conn, "error"); e["code"] != string(response.ErrUnknownQuestion) {
		t.Fatalf("error = %v", e)
	}

	send(t, conn, map[string]any{"action": "submit"})
	readUntil(t, conn, "submitted")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answers["assessment_id"] != "a1" {
		t.Errorf("submitted body = %v", p.answers)
	}
}

func TestSessionStreamRejectsMissingTab(t *testing.T) {
	p := &portal{}
	srv, token := newTestHost(t, p)

	res, err := http.Get(srv.URL + "/ws/v1/student/assessments/a1/stream?token=" + token)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/ws/v1/student/assessments/a1/stream?tab=t")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", res.StatusCode)
	}
}

func TestCaptureWithoutPermission(t *testing.T) {
	d := &clientDevice{}
	if _, err := d.Acquire(t.Context()); !errors.Is(err, recording.ErrDeviceUnavailable) {
		t.Fatalf("Acquire without permission: got %v", err)
	}
	d.ready.Store(true)
	capture, err := d.Acquire(t.Context())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := capture.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		code      response.ErrCode
		status    int
		retryable bool
	}{
		{&session.ContentLoadError{Stage: session.LoadStageContent, Retryable: true, Err: errors.New("503")}, response.ErrContentLoadFailed, http.StatusBadGateway, true},
		{&session.ValidationError{Missing: []string{"q1"}}, response.ErrIncompleteAnswers, http.StatusUnprocessableEntity, false},
		{fmt.Errorf("capture: %w", recording.ErrDeviceUnavailable), response.ErrDeviceUnavailable, http.StatusConflict, true},
		{recording.ErrCapacityReached, response.ErrCapacityReached, http.StatusConflict, false},
		{playback.ErrLimitReached, response.ErrPlaybackLimit, http.StatusForbidden, false},
		{session.ErrSubmitting, response.ErrSubmitting, http.StatusConflict, false},
		{service.ErrSubmissionInFlight, response.ErrSubmitting, http.StatusConflict, true},
		{session.ErrAlreadyLoaded, response.ErrSessionLoaded, http.StatusConflict, false},
		{fmt.Errorf("%w: disk full", recording.ErrTakeNotSaved), response.ErrTakeNotSaved, http.StatusServiceUnavailable, true},
		{service.ErrSessionNotFound, response.ErrSessionNotFound, http.StatusNotFound, false},
		{errors.New("boom"), response.ErrInternal, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got := classify(tt.err)
			if got.code != tt.code || got.status != tt.status || got.retryable != tt.retryable {
				t.Errorf("classify(%v) = %+v", tt.err, got)
			}
		})
	}
}
