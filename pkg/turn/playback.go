package turn

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtvoice/rtvoice/pkg/errorsx"
	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/redact"
	"github.com/rtvoice/rtvoice/pkg/responder"
	"github.com/rtvoice/rtvoice/pkg/turnstream"
)

// AudioSink receives synthesized audio chunks, one write per chunk. Each
// write is a cancellation checkpoint for the playback task.
type AudioSink interface {
	SendAudio(streamID string, chunk []byte) error
}

// PlaybackObserver is notified of playback lifecycle transitions.
type PlaybackObserver interface {
	OnPlaybackStarted()
	OnPlaybackFinished(reason string)
}

// CompletionFunc receives the outcome of one playback task. finalText is the
// assistant text produced so far (possibly partial when cancelled); err is
// nil on natural completion, context.Canceled on barge-in, or the generation
// failure.
type CompletionFunc func(t Turn, turnID, finalText string, err error)

// Handle represents the one currently executing response task.
type Handle struct {
	turn      Turn
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled atomic.Bool
}

// Cancelled reports whether cancellation was requested for this handle.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Supervisor owns at most one live playback task per session and provides
// cancel-and-replace semantics. It is owned by exactly one session; it is
// never shared across sessions or stored globally.
type Supervisor struct {
	mu        sync.Mutex
	handle    *Handle
	responder responder.Responder
	sink      AudioSink
	streamID  string
	emitter   turnstream.Emitter
	observer  PlaybackObserver
	onDone    CompletionFunc

	// cancelDeadline bounds how long Cancel waits for cooperative unwind
	// before detaching from the task. Cooperative cancellation alone can
	// stall forever on an unresponsive transport write.
	cancelDeadline time.Duration

	logger *slog.Logger
}

type SupervisorOptions struct {
	StreamID       string
	CancelDeadline time.Duration
	Emitter        turnstream.Emitter
	OnComplete     CompletionFunc
	Logger         *slog.Logger
}

func NewSupervisor(r responder.Responder, sink AudioSink, opts SupervisorOptions) *Supervisor {
	if opts.CancelDeadline <= 0 {
		opts.CancelDeadline = 2 * time.Second
	}
	if opts.Emitter == nil {
		opts.Emitter = turnstream.NopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		responder:      r,
		sink:           sink,
		streamID:       opts.StreamID,
		emitter:        opts.Emitter,
		onDone:         opts.OnComplete,
		cancelDeadline: opts.CancelDeadline,
		logger:         logging.NewComponentLogger(opts.Logger, "playback_supervisor"),
	}
}

// SetObserver registers the lifecycle observer (the barge-in controller).
func (s *Supervisor) SetObserver(o PlaybackObserver) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// Active reports whether a playback task currently holds the handle.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Start cancels any existing task, waits for it to unwind, then launches the
// response task for t. A new turn's playback never overlaps the prior one.
func (s *Supervisor) Start(ctx context.Context, t Turn, turnID string, req responder.Request) {
	s.Cancel()

	taskCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		turn:      t,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.handle = h
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer.OnPlaybackStarted()
	}
	go s.run(taskCtx, h, turnID, req)
}

// Interrupt requests cancellation of the active task and returns immediately,
// without waiting for unwind. Used on the barge-in path, where the stop-audio
// directive must not wait behind the task's teardown.
func (s *Supervisor) Interrupt() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return
	}
	h.cancelled.Store(true)
	h.cancel()
}

// Cancel requests cooperative cancellation and waits until the task has
// observed it and unwound, or until the cancel deadline expires. On deadline
// the supervisor detaches: the handle is dropped and the stalled task's
// writes go nowhere once the transport buffer is cleared.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return
	}
	h.cancelled.Store(true)
	h.cancel()

	select {
	case <-h.done:
	case <-time.After(s.cancelDeadline):
		s.logger.Warn("playback task did not unwind before deadline, detaching",
			slog.String("reason_code", string(errorsx.ReasonPlaybackDetached)),
			slog.Duration("deadline", s.cancelDeadline))
		s.clear(h)
	}
}

func (s *Supervisor) run(ctx context.Context, h *Handle, turnID string, req responder.Request) {
	defer close(h.done)

	finalText, err := s.stream(ctx, h, turnID, req)
	s.clear(h)

	reason := "completed"
	switch {
	case h.Cancelled() || ctx.Err() != nil:
		reason = "cancelled"
		if err == nil {
			err = context.Canceled
		}
		s.emitter.Emit(turnstream.Status("playback_cancelled", map[string]any{"turn_id": turnID}))
	case err != nil:
		reason = "failed"
		// Generation failure is local to this turn; the session stays usable.
		s.logger.Error("response generation failed",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	}

	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	if observer != nil {
		observer.OnPlaybackFinished(reason)
	}
	if s.onDone != nil {
		s.onDone(h.turn, turnID, finalText, err)
	}
}

// stream consumes responder chunks, forwarding audio to the sink and partial
// text to the turn stream. Every chunk boundary checks for cancellation.
func (s *Supervisor) stream(ctx context.Context, h *Handle, turnID string, req responder.Request) (string, error) {
	ch, err := s.responder.Respond(ctx, req)
	if err != nil {
		return "", err
	}

	var finalText string
	for chunk := range ch {
		if ctx.Err() != nil {
			// Unwind promptly; remaining chunks are dropped and any pooled
			// buffers go back with the responder's channel close.
			return finalText, ctx.Err()
		}
		if chunk.Text != "" {
			finalText = chunk.Text
			if !chunk.Final {
				s.emitter.Emit(turnstream.AssistantStreaming(turnID, redact.Text(chunk.Text)))
			}
		}
		if len(chunk.Audio) > 0 {
			if err := s.sink.SendAudio(s.streamID, chunk.Audio); err != nil {
				s.logger.Warn("audio send failed",
					slog.String("reason_code", string(errorsx.ReasonTransportSend)),
					slog.String("error", err.Error()))
			}
		}
		if chunk.Final {
			s.emitter.Emit(turnstream.Assistant(turnID, redact.Text(chunk.Text)))
		}
	}
	return finalText, ctx.Err()
}

func (s *Supervisor) clear(h *Handle) {
	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	s.mu.Unlock()
}
