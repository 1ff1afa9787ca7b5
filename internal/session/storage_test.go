package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestFileStorageRoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "sessions.json")
	storage := NewFileStorage(path)

	if _, ok, err := storage.Load(ctx, "browser-1"); err != nil || ok {
		t.Fatalf("expected empty storage, ok=%v err=%v", ok, err)
	}
	if err := storage.Save(ctx, "browser-1", completeSession()); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened := NewFileStorage(path)
	got, ok, err := reopened.Load(ctx, "browser-1")
	if err != nil || !ok || got != completeSession() {
		t.Fatalf("expected saved session, got %+v ok=%v err=%v", got, ok, err)
	}

	if err := reopened.Delete(ctx, "browser-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := storage.Load(ctx, "browser-1"); ok {
		t.Fatalf("expected record removed")
	}
}

func TestCorruptFileIsDiscardedOnRehydrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewStore("browser-1", NewFileStorage(path), &authStub{}, 0)
	if _, ok, err := store.Rehydrate(context.Background()); err != nil || ok {
		t.Fatalf("expected empty session from corrupt file, ok=%v err=%v", ok, err)
	}
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("KASIRAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set KASIRAN_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		_ = client.Close()
	})
	storage := NewRedisStorage(client, time.Minute)
	key := "it-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		_ = storage.Delete(ctx, key)
	})

	if err := storage.Save(ctx, key, completeSession()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := storage.Load(ctx, key)
	if err != nil || !ok || got != completeSession() {
		t.Fatalf("expected saved session, got %+v ok=%v err=%v", got, ok, err)
	}
	ttl, err := client.TTL(ctx, redisKey(key)).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("expected ttl on session key, got %v err=%v", ttl, err)
	}
}
