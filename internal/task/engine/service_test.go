package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"chronod/internal/eventbus"
	logx "chronod/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitDone(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete")
		return nil
	}
}

func TestSubmitRunsTaskAndReportsDone(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	done := make(chan error, 1)
	var ran atomic.Bool
	err := s.Submit(context.Background(), Task{
		Name: "fire",
		Run:  func(ctx context.Context) error { ran.Store(true); return nil },
		Done: func(err error) { done <- err },
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Done(%v)", err)
	}
	if !ran.Load() {
		t.Fatal("task did not run")
	}
	if h := s.Snapshot().History; len(h) != 1 || h[0].Name != "fire" || h[0].Attempts != 1 {
		t.Fatalf("history = %+v", h)
	}
}

func TestOverlapSkipWhileRunning(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	state := &RunState{}
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	task := Task{
		Name:  "timer-1",
		Opt:   TaskOptions{Overlap: OverlapSkipIfRunning},
		State: state,
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
		Done: func(err error) { done <- err },
	}
	if err := s.Submit(context.Background(), task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if !state.Busy() {
		t.Fatal("state should be busy while running")
	}
	if err := s.Submit(context.Background(), task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Submit error = %v, want ErrOverlapSkip", err)
	}
	close(release)
	_ = waitDone(t, done)
	if state.Busy() {
		t.Fatal("state still busy after completion")
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls atomic.Int32
	done := make(chan error, 1)
	_ = s.Submit(context.Background(), Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("not yet")
			}
			return nil
		},
		Done: func(err error) { done <- err },
	})
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Done(%v)", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 5})
	var calls atomic.Int32
	done := make(chan error, 1)
	boom := errors.New("boom")
	_ = s.Submit(context.Background(), Task{
		Name: "permanent",
		Opt:  TaskOptions{RetryBase: time.Millisecond},
		Run: func(ctx context.Context) error {
			calls.Add(1)
			return NoRetry(boom)
		},
		Done: func(err error) { done <- err },
	})
	if err := waitDone(t, done); !errors.Is(err, boom) || IsNoRetry(err) {
		t.Fatalf("Done(%v), want unwrapped boom", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	done := make(chan error, 1)
	_ = s.Submit(context.Background(), Task{
		Name: "panics",
		Opt:  TaskOptions{RetryMax: -1},
		Run:  func(ctx context.Context) error { panic("bad callback") },
		Done: func(err error) { done <- err },
	})
	if err := waitDone(t, done); err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestStopWaitsForInflight(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	_ = s.Submit(context.Background(), Task{
		Name: "slow",
		Run: func(ctx context.Context) error {
			close(started)
			select {
			case <-time.After(50 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		Done: func(err error) { done <- err },
	})
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("in-flight task should finish within the grace period, got %v", err)
	}
	if err := s.Submit(context.Background(), Task{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after Stop = %v, want ErrStopped", err)
	}
}

func TestStopAbandonsAfterGrace(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	_ = s.Submit(context.Background(), Task{
		Name: "stuck",
		Opt:  TaskOptions{RetryMax: -1},
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
		Done: func(err error) { done <- err },
	})
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Stop(ctx)
	if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("abandoned task Done(%v), want context.Canceled", err)
	}
}

func TestDisabledEngine(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	s.Start(context.Background())
	err := s.Submit(context.Background(), Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Submit = %v, want ErrDisabled", err)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	rng := rand.New(rand.NewSource(1))
	for retry := 1; retry <= 10; retry++ {
		d := backoffDelay(opt, retry, rng)
		if d < 0 || d > time.Second {
			t.Fatalf("retry %d: delay %s out of bounds", retry, d)
		}
	}
	hinted := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("busy"), time.Hour), rng)
	if hinted > time.Second {
		t.Fatalf("hint not capped: %s", hinted)
	}
}
