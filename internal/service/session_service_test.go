package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/backend"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/rs/zerolog"
)

func newPortal(t *testing.T, routes ...func(*http.ServeMux)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /assessments/a1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Assessment{ID: "a1", Title: "Quiz", Kind: "quiz", TimeLimitMinutes: 15, ContentRef: "content/a1"})
	})
	mux.HandleFunc("GET /content/a1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"questions":[{"id":"q1","type":"short_answer"},{"id":"q2","type":"essay","order":1}]}`))
	})
	for _, route := range routes {
		route(mux)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, routes ...func(*http.ServeMux)) *SessionService {
	t.Helper()
	cfg := &config.Config{
		StoreDriver: config.StoreDriverMemory,
		Session: config.SessionConfig{
			AutosaveInterval: 30 * time.Second,
			DefaultMaxPlays:  2,
			DefaultMaxTakes:  3,
			ForcedRetryMax:   3,
			ForcedRetryBase:  time.Millisecond,
			ReopenWait:       200 * time.Millisecond,
		},
	}
	stores, err := NewStoreFactory(cfg, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	client := backend.New(backend.Config{BaseURL: newPortal(t, routes...).URL, Timeout: 5 * time.Second})
	return NewSessionService(cfg, client, stores, nil, zerolog.Nop())
}

func TestOpenRestoresSameTab(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	ctrl, err := svc.Open(ctx, OpenParams{TabID: "tab-1", Token: "tok", AssessmentID: "a1", StudentID: "s1"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got, _ := svc.Get("tab-1", "a1"); got != ctrl {
		t.Fatal("Get did not return the opened controller")
	}
	if err := ctrl.SetAnswer("q1", json.RawMessage(`"paris"`)); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}

	// A reload of the same tab replaces the controller and keeps the answer.
	reloaded, err := svc.Open(ctx, OpenParams{TabID: "tab-1", Token: "tok", AssessmentID: "a1", StudentID: "s1"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if string(reloaded.View().Answers["q1"].Value) != `"paris"` {
		t.Errorf("answer after reload = %s", reloaded.View().Answers["q1"].Value)
	}

	// Old controller is closed; releasing it must not detach the new one.
	svc.Release(ctx, "tab-1", "a1", ctrl)
	if _, err := svc.Get("tab-1", "a1"); err != nil {
		t.Fatalf("Get after stale release: %v", err)
	}

	other, err := svc.Open(ctx, OpenParams{TabID: "tab-2", Token: "tok", AssessmentID: "a1", StudentID: "s1"})
	if err != nil {
		t.Fatalf("Open tab-2: %v", err)
	}
	if _, ok := other.View().Answers["q1"]; ok {
		t.Error("tab-2 sees the answer of tab-1")
	}

	svc.Release(ctx, "tab-1", "a1", reloaded)
	if _, err := svc.Get("tab-1", "a1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after release: got %v, want ErrSessionNotFound", err)
	}
}

func TestReopenWaitsForRunningSubmission(t *testing.T) {
	ctx := context.Background()
	var submissions atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	svc := newTestService(t, func(mux *http.ServeMux) {
		mux.HandleFunc("POST /submissions/answers", func(w http.ResponseWriter, r *http.Request) {
			submissions.Add(1)
			entered <- struct{}{}
			<-release
			w.WriteHeader(http.StatusNoContent)
		})
	})
	unblock := sync.OnceFunc(func() { close(release) })
	t.Cleanup(unblock)

	params := OpenParams{TabID: "tab-1", Token: "tok", AssessmentID: "a1", StudentID: "s1"}
	first, err := svc.Open(ctx, params)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.SetAnswer("q1", json.RawMessage(`"paris"`)); err != nil {
		t.Fatal(err)
	}
	submitted := make(chan error, 1)
	go func() { submitted <- first.Submit(ctx) }()
	<-entered

	// The saved state still belongs to the running submission.
	if _, err := svc.Open(ctx, params); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("reopen during submission = %v, want ErrSubmissionInFlight", err)
	}

	unblock()
	if err := <-submitted; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	again, err := svc.Open(ctx, params)
	if err != nil {
		t.Fatalf("reopen after submission: %v", err)
	}
	if v := again.View(); v.State != model.SessionStateActive || len(v.Answers) != 0 {
		t.Errorf("reopened view: state = %s answers = %v", v.State, v.Answers)
	}
	if n := submissions.Load(); n != 1 {
		t.Errorf("backend received %d submissions, want 1", n)
	}
}

func TestNewStoreFactory(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{config.StoreDriverMemory, false},
		{config.StoreDriverRedis, true},
		{config.StoreDriverSQLite, true},
		{"etcd", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			_, err := NewStoreFactory(&config.Config{StoreDriver: tt.driver}, nil, nil, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewStoreFactory(%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}
