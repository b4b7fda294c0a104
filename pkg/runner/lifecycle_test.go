package runner

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLifecycleRunsHooksAndDrains(t *testing.T) {
	var mu sync.Mutex
	var order []string
	drainer := DrainerFunc(func() error {
		mu.Lock()
		order = append(order, "drain")
		mu.Unlock()
		return nil
	})
	hooks := Hooks{
		OnStart: func() { mu.Lock(); order = append(order, "start"); mu.Unlock() },
		OnStop:  func() { mu.Lock(); order = append(order, "stop"); mu.Unlock() },
	}

	r := NewLifecycleRunner(drainer, hooks, time.Second)
	r.BannerWriter = &bytes.Buffer{}

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	waitForState(t, r, StateRunning)
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"start", "drain", "stop"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
}

func TestLifecycleDrainTimeout(t *testing.T) {
	drainer := DrainerFunc(func() error {
		time.Sleep(time.Second)
		return nil
	})
	r := NewLifecycleRunner(drainer, Hooks{}, 20*time.Millisecond)
	r.BannerWriter = &bytes.Buffer{}

	go func() { _ = r.Run(context.Background()) }()
	waitForState(t, r, StateRunning)

	start := time.Now()
	err := r.Stop()
	if !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("stop held past the drain window")
	}
}

func TestLifecycleRejectsSecondRun(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	r.BannerWriter = &bytes.Buffer{}

	go func() { _ = r.Run(context.Background()) }()
	waitForState(t, r, StateRunning)

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("second run should fail")
	}
	_ = r.Stop()
}

func TestLifecycleStopsOnContextCancel(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	r.BannerWriter = &bytes.Buffer{}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()
	waitForState(t, r, StateRunning)

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not return after context cancel")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
}

func waitForState(t *testing.T, r *LifecycleRunner, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("runner never reached %s (at %s)", want, r.State())
}
