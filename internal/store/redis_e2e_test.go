//go:build e2e

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	_ = godotenv.Load("../../.env")

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	rdb := redisClient(t)
	tab := "e2e-" + uuid.NewString()

	s := NewRedisStore(rdb, tab, time.Minute)
	other := NewRedisStore(rdb, tab+"-other", time.Minute)

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}
	if err := PutBlob(ctx, s, "k", []byte{0x00, 0x01, 0xfe}); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	got, err := GetBlob(ctx, s, "k")
	if err != nil || len(got) != 3 || got[2] != 0xfe {
		t.Fatalf("GetBlob = %v, %v", got, err)
	}
	if _, err := other.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other tab sees key: %v", err)
	}

	ttl, err := rdb.TTL(ctx, s.key("k")).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v; want within a minute", ttl, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: got %v", err)
	}
}
