package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDrainTimeout reports that in-flight work did not finish inside the
// configured drain window; shutdown proceeds anyway.
var ErrDrainTimeout = errors.New("drain timed out")

// LifecycleRunner sequences one process lifetime: banner, OnStart hook, block
// until cancellation, bounded drain, OnStop hook. Run and Stop may race; the
// drain executes exactly once.
type LifecycleRunner struct {
	state   atomic.Int32
	cancel  context.CancelFunc
	done    chan struct{}
	hooks   Hooks
	drainer Drainer
	timeout time.Duration

	stopOnce  sync.Once
	closeOnce sync.Once
	stopErr   error

	// BannerWriter overrides the banner destination, used by tests.
	BannerWriter io.Writer
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &LifecycleRunner{
		done:    make(chan struct{}),
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
	}
	r.state.Store(int32(StateNew))
	return r
}

// Run blocks until ctx is cancelled or Stop is called, then drains and
// returns the drain outcome. Calling Run twice is an error.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return fmt.Errorf("run from state %s", r.State())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	PrintBanner(r.BannerWriter)
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.Store(int32(StateRunning))

	select {
	case <-runCtx.Done():
	case <-r.done:
	}
	return r.shutdown()
}

// Stop triggers the drain from outside Run and waits for it to finish.
func (r *LifecycleRunner) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.closeOnce.Do(func() { close(r.done) })
	return r.shutdown()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) shutdown() error {
	r.stopOnce.Do(func() {
		r.state.Store(int32(StateDraining))
		r.stopErr = r.drain()
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.stopErr
}

// drain runs the drainer in a goroutine so a wedged Drain cannot hold the
// process past the timeout.
func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	errCh := make(chan error, 1)
	go func() { errCh <- r.drainer.Drain() }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(r.timeout):
		return ErrDrainTimeout
	}
}

var _ Runner = (*LifecycleRunner)(nil)
