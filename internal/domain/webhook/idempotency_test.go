package webhook

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockIdempotencyRepo struct {
	records map[string]*IdempotencyRecord
	getErr  error
	putErr  error
}

func newMockIdempotencyRepo() *mockIdempotencyRepo {
	return &mockIdempotencyRepo{records: make(map[string]*IdempotencyRecord)}
}

func (m *mockIdempotencyRepo) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[key]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, ErrNoIdempotencyRecord
	}
	return rec, nil
}

func (m *mockIdempotencyRepo) Put(ctx context.Context, rec *IdempotencyRecord) error {
	if m.putErr != nil {
		return m.putErr
	}
	if _, exists := m.records[rec.Key]; exists {
		// Concurrent duplicate insert is tolerated, first writer wins.
		return nil
	}
	m.records[rec.Key] = rec
	return nil
}

func (m *mockIdempotencyRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var n int64
	for k, rec := range m.records {
		if time.Now().After(rec.ExpiresAt) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	a := IdempotencyKey([]byte(`{"amount":100}`))
	b := IdempotencyKey([]byte(`{"amount":100}`))
	c := IdempotencyKey([]byte(`{"amount": 100}`))

	if a != b {
		t.Error("identical bytes must produce identical keys")
	}
	if a == c {
		t.Error("different bytes must produce different keys")
	}
	if !strings.HasPrefix(a, "invoice-webhook:") {
		t.Errorf("expected namespaced key, got %q", a)
	}
	// Namespace plus hex-encoded SHA-256.
	if len(a) != len("invoice-webhook:")+64 {
		t.Errorf("unexpected key length %d", len(a))
	}
}

func TestGuard_CheckMissAndHit(t *testing.T) {
	repo := newMockIdempotencyRepo()
	g := NewIdempotencyGuard(repo, zerolog.Nop())
	ctx := context.Background()

	key := IdempotencyKey([]byte("event-1"))
	if _, hit := g.Check(ctx, key); hit {
		t.Fatal("expected miss on empty store")
	}

	g.Record(ctx, key, []byte(`{"success":true}`))

	rec, hit := g.Check(ctx, key)
	if !hit {
		t.Fatal("expected hit after record")
	}
	if string(rec.Response) != `{"success":true}` {
		t.Errorf("unexpected cached response %q", rec.Response)
	}
	if got := time.Until(rec.ExpiresAt); got < 6*24*time.Hour || got > 8*24*time.Hour {
		t.Errorf("expected ~7 day expiry, got %v", got)
	}
}

func TestGuard_LookupFailureDegradesToMiss(t *testing.T) {
	repo := newMockIdempotencyRepo()
	repo.getErr = errors.New("timeout acquiring connection")
	g := NewIdempotencyGuard(repo, zerolog.Nop())

	if _, hit := g.Check(context.Background(), "any"); hit {
		t.Error("lookup failure must degrade to a miss")
	}
}

func TestGuard_RecordFailureIsSwallowed(t *testing.T) {
	repo := newMockIdempotencyRepo()
	repo.putErr = errors.New("disk full")
	g := NewIdempotencyGuard(repo, zerolog.Nop())

	// Must not panic or surface the error.
	g.Record(context.Background(), "key", []byte("resp"))
}

func TestGuard_RecordPurgesExpired(t *testing.T) {
	repo := newMockIdempotencyRepo()
	repo.records["stale"] = &IdempotencyRecord{
		Key:       "stale",
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	g := NewIdempotencyGuard(repo, zerolog.Nop())

	g.Record(context.Background(), "fresh", []byte("resp"))

	if _, ok := repo.records["stale"]; ok {
		t.Error("expected expired record to be purged on write")
	}
	if _, ok := repo.records["fresh"]; !ok {
		t.Error("expected fresh record to be kept")
	}
}
