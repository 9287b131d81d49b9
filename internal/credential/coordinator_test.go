package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedRefresher struct {
	mu    sync.Mutex
	calls int
	next  func(call int) (Credentials, error)
}

func (r *scriptedRefresher) Refresh(context.Context) (Credentials, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	return r.next(call)
}

func (r *scriptedRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type expiryLog struct {
	mu       sync.Mutex
	expiries []time.Time
}

func (l *expiryLog) record(c Credentials) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expiries = append(l.expiries, c.ExpiresAt)
}

func (l *expiryLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expiries)
}

func runCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestCoordinator_RefreshesAheadOfExpiry(t *testing.T) {
	r := &scriptedRefresher{next: func(call int) (Credentials, error) {
		return Credentials{Token: "tok", ExpiresAt: time.Now().Add(200 * time.Millisecond)}, nil
	}}
	c := NewCoordinator(r, WithLeadTime(150*time.Millisecond), WithRetryDelay(10*time.Millisecond, 20*time.Millisecond))
	log := &expiryLog{}
	c.Subscribe(log.record)
	runCoordinator(t, c)

	waitUntil(t, time.Second, func() bool { return log.len() >= 3 }, "expected repeated refreshes before expiry")
	if !c.CurrentCredentialsValid() {
		t.Fatal("expected current credentials to be valid")
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	for i := 1; i < len(log.expiries); i++ {
		if !log.expiries[i].After(log.expiries[i-1]) {
			t.Fatalf("expected strictly later expiries, got %v", log.expiries)
		}
	}
}

func TestCoordinator_RetriesFailures(t *testing.T) {
	r := &scriptedRefresher{next: func(call int) (Credentials, error) {
		if call < 3 {
			return Credentials{}, errors.New("identity provider unavailable")
		}
		return Credentials{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	c := NewCoordinator(r, WithRetryDelay(10*time.Millisecond, 40*time.Millisecond))
	runCoordinator(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	creds, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if creds.Token != "tok" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if got := r.callCount(); got != 3 {
		t.Fatalf("expected 3 refresh calls, got %d", got)
	}
}

func TestCoordinator_SameExpiryIsNotARotation(t *testing.T) {
	expiry := time.Now().Add(100 * time.Millisecond)
	r := &scriptedRefresher{next: func(int) (Credentials, error) {
		return Credentials{Token: "tok", ExpiresAt: expiry}, nil
	}}
	c := NewCoordinator(r, WithLeadTime(90*time.Millisecond), WithRetryDelay(5*time.Millisecond, 10*time.Millisecond))
	log := &expiryLog{}
	c.Subscribe(log.record)
	runCoordinator(t, c)

	waitUntil(t, time.Second, func() bool { return r.callCount() >= 4 }, "expected refresh retries")
	if n := log.len(); n != 1 {
		t.Fatalf("expected a single published rotation, got %d", n)
	}
}

func TestCoordinator_NonExpiringCredentialsAreFetchedOnce(t *testing.T) {
	r := &scriptedRefresher{next: func(int) (Credentials, error) {
		return Credentials{Token: "static"}, nil
	}}
	c := NewCoordinator(r, WithRetryDelay(time.Millisecond, time.Millisecond))
	runCoordinator(t, c)

	waitUntil(t, time.Second, func() bool { return r.callCount() == 1 }, "expected initial refresh")
	time.Sleep(30 * time.Millisecond)
	if got := r.callCount(); got != 1 {
		t.Fatalf("expected no further refreshes, got %d calls", got)
	}
	if !c.CurrentCredentialsValid() {
		t.Fatal("expected non-expiring credentials to be valid")
	}
}

func TestCredentialsValid(t *testing.T) {
	now := time.Now()
	if (Credentials{}).Valid(now) {
		t.Fatal("expected empty credentials to be invalid")
	}
	if (Credentials{Token: "t", ExpiresAt: now.Add(-time.Second)}).Valid(now) {
		t.Fatal("expected expired credentials to be invalid")
	}
	if !(Credentials{Token: "t", ExpiresAt: now.Add(time.Second)}).Valid(now) {
		t.Fatal("expected unexpired credentials to be valid")
	}
}
