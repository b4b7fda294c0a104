package speech

import (
	"log/slog"
	"sync"

	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/redact"
)

// TurnSink accepts a finalized speech result without blocking. It returns
// false when the result was dropped (queue full).
type TurnSink interface {
	Accept(Result) bool
}

// BargeSignal is invoked synchronously on the recognizer goroutine when a
// partial result arrives. Implementations must be fast: this path bounds
// barge-in latency and never crosses into the session's scheduling loop.
type BargeSignal interface {
	OnPartialSpeech(Result)
}

// Bridge converts recognizer callbacks, fired on the recognizer's own
// goroutine, into safe handoffs to the session: partials trigger the barge
// signal in place, finals enqueue onto the turn queue. After Close both
// callbacks become logged no-ops rather than errors, since the recognizer may
// keep firing briefly during teardown.
type Bridge struct {
	mu     sync.RWMutex
	active bool
	sink   TurnSink
	barge  BargeSignal
	logger *slog.Logger
}

func NewBridge(sink TurnSink, barge BargeSignal, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		active: true,
		sink:   sink,
		barge:  barge,
		logger: logging.NewComponentLogger(logger, "speech_bridge"),
	}
}

// OnPartial executes the barge signal synchronously. No scheduling hop: the
// cancellation request must not wait behind whatever the session loop is doing.
func (b *Bridge) OnPartial(r Result) {
	b.mu.RLock()
	active := b.active
	barge := b.barge
	b.mu.RUnlock()
	if !active {
		b.logger.Debug("partial dropped, session inactive")
		return
	}
	barge.OnPartialSpeech(r)
}

// OnFinal enqueues the finalized turn with a non-blocking handoff.
func (b *Bridge) OnFinal(r Result) {
	b.mu.RLock()
	active := b.active
	sink := b.sink
	b.mu.RUnlock()
	if !active {
		b.logger.Debug("final dropped, session inactive",
			slog.String("text", redact.Text(r.Text)))
		return
	}
	if !sink.Accept(r) {
		b.logger.Warn("final turn dropped, queue full",
			slog.String("text", redact.Text(r.Text)))
	}
}

// Close deactivates the bridge. Safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()
}

var _ Handler = (*Bridge)(nil)
