package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/database"
	"github.com/rs/zerolog"
)

var dbSeq atomic.Int64

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:storetest%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := database.OpenSQLite(context.Background(), dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAdapters(t *testing.T) {
	adapters := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return NewSQLiteStore(openTestDB(t), "tab-1", time.Hour, zerolog.Nop()) },
	}

	for name, build := range adapters {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := build(t)

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing: got %v, want ErrNotFound", err)
			}

			if err := s.Put(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(ctx, "k", []byte("v2")); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			got, err := s.Get(ctx, "k")
			if err != nil || string(got) != "v2" {
				t.Fatalf("Get: got %q, %v; want v2", got, err)
			}

			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete twice: %v", err)
			}
			if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBlobRoundTripKeepsBinary(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	payload := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0xff, 0x80}

	if err := PutBlob(ctx, s, "take", payload); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	raw, _ := s.Get(ctx, "take")
	if bytes.Contains(raw, []byte{0x00}) {
		t.Errorf("stored blob is not text: %v", raw)
	}
	got, err := GetBlob(ctx, s, "take")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("GetBlob = %v, want %v", got, payload)
	}

	if err := s.Put(ctx, "bad", []byte("not base64!")); err != nil {
		t.Fatal(err)
	}
	if _, err := GetBlob(ctx, s, "bad"); err == nil {
		t.Error("GetBlob on corrupt value: want error")
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type snap struct {
		Current int `json:"current"`
	}
	if err := PutJSON(ctx, s, "snap", snap{Current: 3}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	var got snap
	if err := GetJSON(ctx, s, "snap", &got); err != nil || got.Current != 3 {
		t.Fatalf("GetJSON = %+v, %v", got, err)
	}
	if err := GetJSON(ctx, s, "nope", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON missing: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteRefreshFailureKeepsValue(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	var logs bytes.Buffer
	s := NewSQLiteStore(db, "tab-1", time.Hour, zerolog.New(&logs))
	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TRIGGER block_refresh BEFORE UPDATE ON tab_store
		BEGIN SELECT RAISE(ABORT, 'refresh blocked'); END`); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v; want v", got, err)
	}
	if out := logs.String(); !strings.Contains(out, "Sliding expiry refresh failed") || !strings.Contains(out, "refresh blocked") {
		t.Errorf("refresh failure not logged: %s", out)
	}
}

func TestSQLiteNamespacesAndExpiry(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tabA := NewSQLiteStore(db, "tab-a", time.Hour, zerolog.Nop())
	tabA.now = clock
	tabB := NewSQLiteStore(db, "tab-b", time.Hour, zerolog.Nop())
	tabB.now = clock

	if err := tabA.Put(ctx, "k", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := tabB.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tab-b sees tab-a key: %v", err)
	}

	// Reading slides the expiry forward.
	now = now.Add(50 * time.Minute)
	if _, err := tabA.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	now = now.Add(50 * time.Minute)
	if _, err := tabA.Get(ctx, "k"); err != nil {
		t.Fatalf("Get after slide: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := tabA.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry: got %v, want ErrNotFound", err)
	}

	n, err := Purge(ctx, db, now)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge removed %d rows, want 1", n)
	}
}
