package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T, retention time.Duration) (Store, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	store, err := NewRedis(RedisConfig{Address: server.Addr(), Retention: retention})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store, server
}

func TestRedisStoreWriteRead(t *testing.T) {
	store, _ := newTestRedis(t, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC()
	entry := Entry{
		Key:        "redis:k1",
		Value:      []byte("payload"),
		Tags:       []string{"products", "path:/products"},
		CreatedAt:  now,
		FreshUntil: now.Add(time.Minute),
	}
	if err := store.Write(ctx, entry); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok, err := store.Read(ctx, "redis:k1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(got.Value) != "payload" || len(got.Tags) != 2 {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if !got.FreshUntil.Equal(entry.FreshUntil) {
		t.Fatalf("freshness deadline not round-tripped: %v", got.FreshUntil)
	}

	if _, ok, err := store.Read(ctx, "redis:absent"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreRetentionCeiling(t *testing.T) {
	store, server := newTestRedis(t, time.Minute)
	ctx := context.Background()

	entry := Entry{Key: "redis:k1", Value: []byte("v"), CreatedAt: time.Now().UTC()}
	if err := store.Write(ctx, entry); err != nil {
		t.Fatalf("write: %v", err)
	}

	server.FastForward(2 * time.Minute)

	if _, ok, err := store.Read(ctx, "redis:k1"); err != nil || ok {
		t.Fatalf("expected entry dropped past retention, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreMarkStale(t *testing.T) {
	store, _ := newTestRedis(t, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.Write(ctx, Entry{Key: "redis:k1", Value: []byte("v"), CreatedAt: now, FreshUntil: now.Add(time.Hour)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	at := now.Add(time.Second)
	if err := store.MarkStale(ctx, []Key{"redis:k1", "redis:missing"}, at); err != nil {
		t.Fatalf("mark stale: %v", err)
	}

	got, ok, err := store.Read(ctx, "redis:k1")
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if got.Fresh(at.Add(time.Millisecond)) {
		t.Fatalf("expected entry stale after invalidation")
	}
	if string(got.Value) != "v" {
		t.Fatalf("invalidation must not drop the last good value")
	}
}

func TestRedisStoreMarkStaleKeepsLatestWrite(t *testing.T) {
	store, server := newTestRedis(t, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC()
	// First write has no freshness deadline at all; the replacement landing
	// just before the invalidation applies is the value that must survive.
	if err := store.Write(ctx, Entry{Key: "redis:k1", Value: []byte("v1"), CreatedAt: now}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Write(ctx, Entry{Key: "redis:k1", Value: []byte("v2"), CreatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	at := now.Add(2 * time.Second)
	if err := store.MarkStale(ctx, []Key{"redis:k1"}, at); err != nil {
		t.Fatalf("mark stale: %v", err)
	}

	got, ok, err := store.Read(ctx, "redis:k1")
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if string(got.Value) != "v2" {
		t.Fatalf("invalidation overwrote a newer entry: %q", got.Value)
	}
	if got.Fresh(at) {
		t.Fatalf("expected entry stale as of the invalidation instant")
	}
	if server.TTL("redis:k1") <= 0 {
		t.Fatalf("invalidation must preserve the retention ceiling")
	}
}

func TestRedisStoreRemoveAndLen(t *testing.T) {
	store, _ := newTestRedis(t, time.Hour)
	ctx := context.Background()

	if err := store.Write(ctx, Entry{Key: "redis:k1", Value: []byte("v"), CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if size, err := store.Len(ctx); err != nil || size != 1 {
		t.Fatalf("len: size=%d err=%v", size, err)
	}
	if err := store.Remove(ctx, "redis:k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if size, err := store.Len(ctx); err != nil || size != 0 {
		t.Fatalf("len after remove: size=%d err=%v", size, err)
	}
}
