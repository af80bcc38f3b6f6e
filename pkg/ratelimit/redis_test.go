package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T, window time.Duration) *RedisLimiter {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, window)
}

func TestRedisLimiterCountsInWindow(t *testing.T) {
	l := newTestRedisLimiter(t, time.Minute)
	for i := 1; i <= 2; i++ {
		d := l.Allow("u1:/v1/check", 2)
		if !d.Allowed || d.Count != i {
			t.Fatalf("request %d: %#v", i, d)
		}
	}
	d := l.Allow("u1:/v1/check", 2)
	if d.Allowed {
		t.Fatal("third request should be limited")
	}
	if d.Remaining != 0 {
		t.Fatalf("remaining = %d", d.Remaining)
	}
}

func TestRedisLimiterPrefixesKeys(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	l := NewRedis(client, time.Minute)
	l.Allow("u1", 10)
	if !srv.Exists("authz:rl:u1") {
		t.Fatalf("expected prefixed key, have %v", srv.Keys())
	}
}

func TestRedisLimiterFallsBackWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	l := NewRedis(client, time.Minute)
	srv.Close()

	if !l.Allow("u1", 1).Allowed {
		t.Fatal("fallback first request should pass")
	}
	if l.Allow("u1", 1).Allowed {
		t.Fatal("fallback must still enforce the limit")
	}
}

func TestRedisLimiterNilClientUsesFallback(t *testing.T) {
	l := NewRedis(nil, time.Minute)
	if !l.Allow("u1", 1).Allowed {
		t.Fatal("first request")
	}
	if l.Allow("u1", 1).Allowed {
		t.Fatal("fallback should enforce")
	}
}
