package cacheaside

import (
	"context"
	"testing"
	"time"
)

func TestStale_PutGet(t *testing.T) {
	_, store, mr := newEnv(t)
	ctx := context.Background()

	s := NewStale(store, 24*time.Hour, testLogger())

	if _, ok := s.Get(ctx, "stale:lima"); ok {
		t.Fatalf("Get before any Put must miss")
	}

	s.Put(ctx, "stale:lima", []byte(`{"temp":21}`))
	raw, ok := s.Get(ctx, "stale:lima")
	if !ok || string(raw) != `{"temp":21}` {
		t.Fatalf("Get after Put: ok=%v raw=%s", ok, raw)
	}

	if ttl := mr.TTL("stale:lima"); ttl != 24*time.Hour {
		t.Fatalf("stale ttl=%v want 24h", ttl)
	}
}

func TestStale_SurvivesFreshExpiry(t *testing.T) {
	_, store, mr := newEnv(t)
	ctx := context.Background()

	s := NewStale(store, 24*time.Hour, testLogger())
	_ = store.Set(ctx, "w:lima", []byte(`{"temp":21}`), 5*time.Minute)
	s.Put(ctx, "stale:lima", []byte(`{"temp":21}`))

	mr.FastForward(6 * time.Minute)

	if _, ok, _ := store.Get(ctx, "w:lima"); ok {
		t.Fatalf("fresh entry should be expired")
	}
	if _, ok := s.Get(ctx, "stale:lima"); !ok {
		t.Fatalf("stale copy must outlive the fresh entry")
	}
}

func TestStale_FailOpen(t *testing.T) {
	_, store, mr := newEnv(t)
	ctx := context.Background()

	s := NewStale(store, 0, testLogger())
	mr.SetError("boom")

	// neither call may panic or surface the error
	s.Put(ctx, "k", []byte("v"))
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatalf("Get with store down must report a miss")
	}
}

func TestStale_NilReceiverIsInert(t *testing.T) {
	var s *Stale
	ctx := context.Background()
	s.Put(ctx, "k", []byte("v"))
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatalf("nil Stale must behave as empty")
	}
}
