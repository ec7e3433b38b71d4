package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func failOp(calls *int) func() (string, error) {
	return func() (string, error) {
		*calls++
		return "", errBoom
	}
}

func okOp(calls *int) func() (string, error) {
	return func() (string, error) {
		*calls++
		return "ok", nil
	}
}

func tripOpen(t *testing.T, b *CircuitBreaker, n int) {
	t.Helper()
	calls := 0
	for i := 0; i < n; i++ {
		if _, err := Call(b, failOp(&calls)); err == nil {
			t.Fatalf("expected failure on call %d", i+1)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after %d failures, got %s", n, b.State())
	}
}

func TestCall_OpensAfterThresholdAndRejectsWithoutInvoking(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{FailureThreshold: 5, Timeout: time.Minute, HalfOpenMaxRequests: 3, Now: clock.Now})

	calls := 0
	for i := 0; i < 5; i++ {
		_, err := Call(b, failOp(&calls))
		var execErr *ExecutionFailedError
		if !errors.As(err, &execErr) {
			t.Fatalf("call %d: expected ExecutionFailedError, got %v", i+1, err)
		}
		if execErr.Message != "boom" {
			t.Fatalf("unexpected message %q", execErr.Message)
		}
		if !errors.Is(err, errBoom) {
			t.Fatalf("expected wrapped cause")
		}
	}
	if calls != 5 {
		t.Fatalf("expected 5 invocations, got %d", calls)
	}

	_, err := Call(b, failOp(&calls))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("operation must not run while open, got %d calls", calls)
	}
}

func TestCall_SuccessResetsFailuresWhenClosed(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Timeout: time.Minute})
	calls := 0

	Call(b, failOp(&calls))
	Call(b, failOp(&calls))
	if got := b.Counts().Failures; got != 2 {
		t.Fatalf("expected 2 failures, got %d", got)
	}
	if _, err := Call(b, okOp(&calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Counts().Failures; got != 0 {
		t.Fatalf("expected failures reset, got %d", got)
	}
	Call(b, failOp(&calls))
	Call(b, failOp(&calls))
	if b.State() != StateClosed {
		t.Fatalf("streak was broken, expected closed, got %s", b.State())
	}
}

func TestCall_StaysOpenUntilTimeoutElapses(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{FailureThreshold: 1, Timeout: 10 * time.Second, Now: clock.Now})
	tripOpen(t, b, 1)

	calls := 0
	clock.Advance(10 * time.Second)
	if _, err := Call(b, okOp(&calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("elapsed == timeout must still reject, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no invocation, got %d", calls)
	}
}

func TestCall_HalfOpenObservedBeforeProbe(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{FailureThreshold: 2, Timeout: time.Second, HalfOpenMaxRequests: 3, Now: clock.Now})
	tripOpen(t, b, 2)

	clock.Advance(time.Second + time.Millisecond)

	var observed State = -1
	_, err := Call(b, func() (string, error) {
		observed = b.State()
		return "trial", nil
	})
	if err != nil {
		t.Fatalf("expected trial call to run, got %v", err)
	}
	if observed != StateHalfOpen {
		t.Fatalf("expected half-open before trial call, got %s", observed)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("one success below quota keeps half-open, got %s", b.State())
	}
}

func TestCall_HalfOpenClosesAfterQuota(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{FailureThreshold: 2, Timeout: time.Second, HalfOpenMaxRequests: 3, Now: clock.Now})
	tripOpen(t, b, 2)
	clock.Advance(2 * time.Second)

	calls := 0
	for i := 0; i < 3; i++ {
		if _, err := Call(b, okOp(&calls)); err != nil {
			t.Fatalf("trial call %d failed: %v", i+1, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
	if c := b.Counts(); c.Failures != 0 || c.Successes != 0 {
		t.Fatalf("expected zeroed counters, got %+v", c)
	}
}

func TestCall_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{FailureThreshold: 2, Timeout: time.Second, HalfOpenMaxRequests: 3, Now: clock.Now})
	tripOpen(t, b, 2)
	openedAt := b.LastFailure()

	clock.Advance(5 * time.Second)
	calls := 0
	if _, err := Call(b, okOp(&calls)); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if _, err := Call(b, failOp(&calls)); err == nil {
		t.Fatalf("expected failure")
	}
	if b.State() != StateOpen {
		t.Fatalf("expected reopen, got %s", b.State())
	}
	if !b.LastFailure().After(openedAt) {
		t.Fatalf("expected last failure refreshed, was %v now %v", openedAt, b.LastFailure())
	}
	if got := b.Counts().Successes; got != 0 {
		t.Fatalf("expected trial successes discarded, got %d", got)
	}
	if _, err := Call(b, okOp(&calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reject right after reopen, got %v", err)
	}
}

func TestOnStateChange_ReportsEveryTransition(t *testing.T) {
	clock := newFakeClock()
	var got []string
	b := New(Config{
		Name:                "gateway",
		FailureThreshold:    1,
		Timeout:             time.Second,
		HalfOpenMaxRequests: 1,
		Now:                 clock.Now,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})

	calls := 0
	Call(b, failOp(&calls))
	clock.Advance(2 * time.Second)
	Call(b, okOp(&calls))

	want := []string{
		"gateway:CLOSED->OPEN",
		"gateway:OPEN->HALF_OPEN",
		"gateway:HALF_OPEN->CLOSED",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestCall_ConcurrentFailuresOpenOnce(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	b := New(Config{
		FailureThreshold: 5,
		Timeout:          time.Hour,
		OnStateChange: func(_ string, _, to State) {
			if to == StateOpen {
				mu.Lock()
				opens++
				mu.Unlock()
			}
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Execute(func() error { return errBoom })
		}()
	}
	wg.Wait()

	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	if opens != 1 {
		t.Fatalf("expected exactly one transition to open, got %d", opens)
	}
}

func TestCall_NilBreakerPassesThrough(t *testing.T) {
	var b *CircuitBreaker
	calls := 0
	got, err := Call(b, okOp(&calls))
	if err != nil || got != "ok" || calls != 1 {
		t.Fatalf("unexpected result %q %v %d", got, err, calls)
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	if b.failureThreshold != 5 || b.timeout != 60*time.Second || b.halfOpenMax != 3 {
		t.Fatalf("unexpected defaults: %d %v %d", b.failureThreshold, b.timeout, b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed initial state")
	}
}
