package api

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

func newTestIdempotency(t *testing.T) (*miniredis.Miniredis, *RedisIdempotency) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, NewRedisIdempotency(client, time.Hour)
}

func TestRedisIdempotencyReplaysCommittedResult(t *testing.T) {
	m, idem := newTestIdempotency(t)
	ctx := context.Background()

	if _, replay, err := idem.Begin(ctx, "user:save:b", "k1"); err != nil || replay {
		t.Fatalf("first begin: replay=%v err=%v", replay, err)
	}
	if ttl := m.TTL(idempotencyKeyPrefix + ":user:save:b:k1"); ttl != pendingTTL {
		t.Fatalf("pending claim TTL = %v, want %v", ttl, pendingTTL)
	}
	if _, _, err := idem.Begin(ctx, "user:save:b", "k1"); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}

	want := domain.Committed("b", "v2")
	if err := idem.Finish(ctx, "user:save:b", "k1", want); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, replay, err := idem.Begin(ctx, "user:save:b", "k1")
	if err != nil || !replay {
		t.Fatalf("expected replay, got replay=%v err=%v", replay, err)
	}
	if got != want {
		t.Fatalf("replayed %+v, want %+v", got, want)
	}
	if ttl := m.TTL(idempotencyKeyPrefix + ":user:save:b:k1"); ttl != time.Hour {
		t.Fatalf("result TTL = %v, want 1h", ttl)
	}
}

func TestRedisIdempotencyReleasesFailedRequest(t *testing.T) {
	m, idem := newTestIdempotency(t)
	ctx := context.Background()

	if _, _, err := idem.Begin(ctx, "user:create", "k1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := idem.Finish(ctx, "user:create", "k1", domain.Failure(domain.ErrConcurrencyConflict)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if m.Exists(idempotencyKeyPrefix + ":user:create:k1") {
		t.Fatal("failed result must release the key")
	}
	if _, replay, err := idem.Begin(ctx, "user:create", "k1"); err != nil || replay {
		t.Fatalf("retry should claim again: replay=%v err=%v", replay, err)
	}
}

func TestRedisIdempotencyScopesKeys(t *testing.T) {
	_, idem := newTestIdempotency(t)
	ctx := context.Background()

	if _, _, err := idem.Begin(ctx, "alice:create", "k"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, replay, err := idem.Begin(ctx, "bob:create", "k"); err != nil || replay {
		t.Fatalf("other scope must be independent: replay=%v err=%v", replay, err)
	}
}

func TestRedisIdempotencyCorruptEntry(t *testing.T) {
	m, idem := newTestIdempotency(t)
	if err := m.Set(idempotencyKeyPrefix+":s:k", "{broken"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := idem.Begin(context.Background(), "s", "k"); err == nil {
		t.Fatal("expected decode error")
	}
}
