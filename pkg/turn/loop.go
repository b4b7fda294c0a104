package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rtvoice/rtvoice/pkg/conversation"
	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/redact"
	"github.com/rtvoice/rtvoice/pkg/responder"
	"github.com/rtvoice/rtvoice/pkg/turnstream"
)

// Loop is the per-session scheduler. It is the queue's only consumer and the
// supervisor's only caller of Start, which keeps turn ordering strictly FIFO
// and playback at most one at a time.
type Loop struct {
	callID     string
	queue      *Queue
	supervisor *Supervisor
	conv       *conversation.Manager
	emitter    turnstream.Emitter
	seq        atomic.Int64
	logger     *slog.Logger
}

type LoopOptions struct {
	CallID  string
	Emitter turnstream.Emitter
	Logger  *slog.Logger
}

func NewLoop(queue *Queue, supervisor *Supervisor, conv *conversation.Manager, opts LoopOptions) *Loop {
	if opts.Emitter == nil {
		opts.Emitter = turnstream.NopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l := &Loop{
		callID:     opts.CallID,
		queue:      queue,
		supervisor: supervisor,
		conv:       conv,
		emitter:    opts.Emitter,
		logger:     logging.NewComponentLogger(opts.Logger, "turn_loop"),
	}
	supervisor.onDone = l.onPlaybackDone
	return l
}

// Run dequeues and dispatches turns until ctx is done. Dequeue is the loop's
// single blocking point; dispatch itself never blocks on playback, the
// supervisor's cancel-and-replace handles an in-flight prior turn.
func (l *Loop) Run(ctx context.Context) error {
	for {
		t, err := l.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		l.dispatch(ctx, t)
	}
}

func (l *Loop) dispatch(ctx context.Context, t Turn) {
	turnID := l.nextTurnID()

	l.conv.AppendHistory("user", t.Result.Text)
	if err := l.conv.Persist(ctx); err != nil {
		l.logger.Warn("user turn persist failed",
			slog.String("turn_id", turnID),
			slog.String("error", err.Error()))
	}
	l.emitter.Emit(turnstream.User(turnID, redact.Text(t.Result.Text)))

	l.logger.Info("turn dispatched",
		slog.String("turn_id", turnID),
		slog.Duration("queue_wait", time.Since(t.EnqueuedAt)),
		slog.String("text", redact.Text(t.Result.Text)))

	l.supervisor.Start(ctx, t, turnID, responder.Request{
		TurnID: turnID,
		Text:   t.Result.Text,
		State:  l.conv.Snapshot(),
	})
}

// onPlaybackDone records the assistant reply once a task completes naturally.
// Cancelled and failed turns leave no assistant history entry.
func (l *Loop) onPlaybackDone(t Turn, turnID, finalText string, err error) {
	if err != nil || finalText == "" {
		return
	}
	l.conv.AppendHistory("assistant", finalText)
	if perr := l.conv.Persist(context.Background()); perr != nil {
		l.logger.Warn("assistant turn persist failed",
			slog.String("turn_id", turnID),
			slog.String("error", perr.Error()))
	}
}

func (l *Loop) nextTurnID() string {
	return fmt.Sprintf("%s-%d", l.callID, l.seq.Add(1))
}
