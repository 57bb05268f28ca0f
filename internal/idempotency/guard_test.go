package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrentCallsRunOnce(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Minute)
	var runs atomic.Int32
	var duplicates atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := g.Do(context.Background(), 42, "approve:7", 0, func(context.Context) error {
				runs.Add(1)
				time.Sleep(5 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if status == StatusDuplicate {
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	if runs.Load() != 1 {
		t.Fatalf("handler ran %d times", runs.Load())
	}
	if duplicates.Load() != 15 {
		t.Fatalf("duplicates = %d", duplicates.Load())
	}
}

func TestDifferentActorsAreIndependent(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Minute)
	for _, actor := range []int64{1, 2} {
		status, err := g.Do(context.Background(), actor, "pay", 0, func(context.Context) error { return nil })
		if err != nil || status != StatusOK {
			t.Fatalf("actor %d: status=%s err=%v", actor, status, err)
		}
	}
}

func TestHandlerErrorReleasesMarker(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Minute)
	boom := errors.New("boom")

	_, err := g.Do(context.Background(), 1, "submit", 0, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}

	status, err := g.Do(context.Background(), 1, "submit", 0, func(context.Context) error { return nil })
	if err != nil || status != StatusOK {
		t.Fatalf("retry after failure: status=%s err=%v", status, err)
	}
}

func TestMarkerExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	g := NewGuard(store, 10*time.Second)

	if status, _ := g.Do(context.Background(), 1, "a", 0, func(context.Context) error { return nil }); status != StatusOK {
		t.Fatal("first call should run")
	}
	if status, _ := g.Do(context.Background(), 1, "a", 0, func(context.Context) error { return nil }); status != StatusDuplicate {
		t.Fatal("second call should be a duplicate")
	}

	now = now.Add(11 * time.Second)
	if n, _ := store.PurgeExpired(context.Background()); n != 1 {
		t.Fatalf("purged %d markers", n)
	}
	if status, _ := g.Do(context.Background(), 1, "a", 0, func(context.Context) error { return nil }); status != StatusOK {
		t.Fatal("call after expiry should run")
	}
}

type brokenStore struct {
	acquireErr error
	releaseErr error
}

func (b brokenStore) Acquire(context.Context, int64, string, time.Duration) (bool, error) {
	return b.acquireErr == nil, b.acquireErr
}

func (b brokenStore) Release(context.Context, int64, string) error { return b.releaseErr }

func TestAcquireFailureFailsOpen(t *testing.T) {
	g := NewGuard(brokenStore{acquireErr: errors.New("db down")}, 0)
	ran := false
	status, err := g.Do(context.Background(), 1, "x", 0, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || status != StatusOK || !ran {
		t.Fatalf("status=%s err=%v ran=%v", status, err, ran)
	}
}

func TestReleaseFailureDoesNotMaskHandlerError(t *testing.T) {
	g := NewGuard(brokenStore{releaseErr: errors.New("release failed")}, 0)
	boom := errors.New("boom")
	_, err := g.Do(context.Background(), 1, "x", 0, func(context.Context) error { return boom })
	if err != boom {
		t.Fatalf("expected handler error unchanged, got %v", err)
	}
}

func TestWithIdempotencyReturnsValue(t *testing.T) {
	g := NewGuard(NewMemoryStore(), 0)
	res, err := WithIdempotency(context.Background(), g, 5, "link", 0, func(context.Context) (string, error) {
		return "https://t.me/+abc", nil
	})
	if err != nil || res.Duplicate() || res.Value != "https://t.me/+abc" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	res, _ = WithIdempotency(context.Background(), g, 5, "link", 0, func(context.Context) (string, error) {
		t.Fatal("duplicate must not run")
		return "", nil
	})
	if !res.Duplicate() || res.Value != "" {
		t.Fatalf("expected duplicate, got %+v", res)
	}
}
