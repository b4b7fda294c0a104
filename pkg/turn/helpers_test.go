package turn

import (
	"context"
	"sync"
	"time"

	"github.com/rtvoice/rtvoice/pkg/responder"
)

// echoResponder streams a few audio chunks and finishes with an echo of the
// request text. unwindLag simulates a provider that is slow to tear down
// after cancellation.
type echoResponder struct {
	chunks    int
	delay     time.Duration
	unwindLag time.Duration
	failWith  error
}

func (r *echoResponder) Name() string { return "echo" }

func (r *echoResponder) Respond(ctx context.Context, req responder.Request) (<-chan responder.Chunk, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	out := make(chan responder.Chunk, 1)
	go func() {
		defer close(out)
		for i := 0; i < r.chunks; i++ {
			if r.delay > 0 {
				select {
				case <-time.After(r.delay):
				case <-ctx.Done():
					if r.unwindLag > 0 {
						time.Sleep(r.unwindLag)
					}
					return
				}
			}
			select {
			case out <- responder.Chunk{Text: "partial", Audio: []byte("pcm")}:
			case <-ctx.Done():
				if r.unwindLag > 0 {
					time.Sleep(r.unwindLag)
				}
				return
			}
		}
		select {
		case out <- responder.Chunk{Text: "echo: " + req.Text, Final: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// stalledResponder returns a channel that emits nothing for a long time,
// modelling a task that never observes cancellation.
type stalledResponder struct {
	stall time.Duration
}

func (r *stalledResponder) Name() string { return "stalled" }

func (r *stalledResponder) Respond(ctx context.Context, req responder.Request) (<-chan responder.Chunk, error) {
	out := make(chan responder.Chunk)
	go func() {
		time.Sleep(r.stall)
		close(out)
	}()
	return out, nil
}

type recordingSink struct {
	mu    sync.Mutex
	sends []time.Time
	delay time.Duration
	err   error
}

func (s *recordingSink) SendAudio(streamID string, chunk []byte) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.sends = append(s.sends, time.Now())
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

type recordingStopper struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (s *recordingStopper) StopAudio(streamID string) error {
	s.mu.Lock()
	s.calls = append(s.calls, time.Now())
	s.mu.Unlock()
	return s.err
}

func (s *recordingStopper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// lifecycleRecorder captures observer notifications in order.
type lifecycleRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *lifecycleRecorder) OnPlaybackStarted() {
	r.mu.Lock()
	r.events = append(r.events, "started")
	r.mu.Unlock()
}

func (r *lifecycleRecorder) OnPlaybackFinished(reason string) {
	r.mu.Lock()
	r.events = append(r.events, "finished:"+reason)
	r.mu.Unlock()
}

func (r *lifecycleRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

type completion struct {
	turnID    string
	finalText string
	err       error
}

func completionRecorder() (CompletionFunc, <-chan completion) {
	ch := make(chan completion, 16)
	return func(t Turn, turnID, finalText string, err error) {
		ch <- completion{turnID: turnID, finalText: finalText, err: err}
	}, ch
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
