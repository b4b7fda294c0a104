package turn

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/redact"
	"github.com/rtvoice/rtvoice/pkg/speech"
)

// Queue is the bounded FIFO of finalized turns. Single consumer (the session
// loop); the speech bridge is the only producer. Normally holds 0-1 items, a
// turn is usually consumed before the next final result arrives, so a full
// queue means the caller is far ahead of playback and the freshest policy is
// to drop rather than buffer stale speech.
type Queue struct {
	ch      chan Turn
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewQueue(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ch:     make(chan Turn, capacity),
		logger: logging.NewComponentLogger(logger, "turn_queue"),
	}
}

// TryEnqueue adds a turn without blocking. A full queue drops the turn and
// records a warning; the session continues.
func (q *Queue) TryEnqueue(t Turn) bool {
	select {
	case q.ch <- t:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("turn dropped, queue full",
			slog.String("text", redact.Text(t.Result.Text)),
			slog.Int64("dropped_total", q.dropped.Load()))
		return false
	}
}

// Accept implements speech.TurnSink.
func (q *Queue) Accept(r speech.Result) bool {
	return q.TryEnqueue(Turn{Result: r, EnqueuedAt: time.Now()})
}

// Dequeue blocks until a turn is available or ctx is done. This is the only
// blocking point in the session loop.
func (q *Queue) Dequeue(ctx context.Context) (Turn, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-ctx.Done():
		return Turn{}, ctx.Err()
	}
}

// Len reports the number of queued turns.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped reports how many turns were dropped on a full queue.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

var _ speech.TurnSink = (*Queue)(nil)
