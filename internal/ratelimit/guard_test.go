package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeCounter is an in-memory Counter that records Expire calls.
type fakeCounter struct {
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Duration),
	}
}

func (f *fakeCounter) Incr(ctx context.Context, key string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.expires[key] = ttl
	return nil
}

func TestAdmitWithinLimit(t *testing.T) {
	counter := newFakeCounter()
	guard := New(counter, 5, time.Minute, nil)

	for i := 0; i < 5; i++ {
		if !guard.Admit(context.Background(), "10.0.0.1") {
			t.Fatalf("admission %d denied, limit is 5", i+1)
		}
	}
	if guard.Admit(context.Background(), "10.0.0.1") {
		t.Error("sixth admission should be denied")
	}
}

func TestAdmitPerOrigin(t *testing.T) {
	counter := newFakeCounter()
	guard := New(counter, 1, time.Minute, nil)

	if !guard.Admit(context.Background(), "10.0.0.1") {
		t.Error("first origin should be admitted")
	}
	if !guard.Admit(context.Background(), "10.0.0.2") {
		t.Error("second origin has its own window")
	}
	if guard.Admit(context.Background(), "10.0.0.1") {
		t.Error("first origin should now be over its limit")
	}
}

// Only the first increment in a window arms the expiry, so the window is
// fixed from the first upload rather than sliding.
func TestAdmitArmsExpiryOnce(t *testing.T) {
	counter := newFakeCounter()
	guard := New(counter, 5, time.Minute, nil)

	guard.Admit(context.Background(), "10.0.0.1")
	guard.Admit(context.Background(), "10.0.0.1")

	if got := counter.expires["upload_rate:10.0.0.1"]; got != time.Minute {
		t.Errorf("expiry = %v, want %v", got, time.Minute)
	}
	if len(counter.expires) != 1 {
		t.Errorf("expire calls recorded = %d, want 1", len(counter.expires))
	}
}

func TestAdmitFailsClosed(t *testing.T) {
	counter := newFakeCounter()
	counter.err = errors.New("connection refused")
	guard := New(counter, 5, time.Minute, nil)

	if guard.Admit(context.Background(), "10.0.0.1") {
		t.Error("unavailable counter store must deny uploads")
	}
}
