package turn

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rtvoice/rtvoice/pkg/errorsx"
	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/speech"
)

// State is the per-session playback state.
type State int

const (
	StateIdle State = iota
	StatePlaying
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes controller state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// AudioStopper emits the stop-audio directive to the media transport.
type AudioStopper interface {
	StopAudio(streamID string) error
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// Controller is the per-session barge-in state machine. On a partial-speech
// signal while Playing it interrupts the supervisor and emits the stop-audio
// directive in the same synchronous step, without waiting for the task to
// unwind: the directive and the cancellation race deliberately, because
// audible latency matters more than perfect sequencing.
type Controller struct {
	mu         sync.RWMutex
	state      State
	supervisor *Supervisor
	stopper    AudioStopper
	streamID   string
	listeners  []StateListener
	logger     *slog.Logger
}

func NewController(supervisor *Supervisor, stopper AudioStopper, streamID string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		state:      StateIdle,
		supervisor: supervisor,
		stopper:    stopper,
		streamID:   streamID,
		logger:     logging.NewComponentLogger(logger, "barge_in"),
	}
	supervisor.SetObserver(c)
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (c *Controller) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:    {StatePlaying},
		StatePlaying: {StateIdle},
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (c *Controller) Transition(state State, reason string) error {
	c.mu.Lock()
	if !c.transitionValid(c.state, state) {
		c.mu.Unlock()
		return &InvalidTransitionError{From: c.state, To: state}
	}
	oldState := c.state
	c.state = state

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	// Notify listeners outside the lock to avoid deadlocks.
	listeners := make([]StateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (c *Controller) AddListener(listener StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// OnPartialSpeech handles a partial result fired on the recognizer goroutine.
// While Playing it requests cancellation and emits the stop directive in the
// same step; the directive never waits on the task's unwind.
func (c *Controller) OnPartialSpeech(r speech.Result) {
	if c.State() != StatePlaying {
		return
	}
	start := time.Now()
	c.supervisor.Interrupt()
	if err := c.stopper.StopAudio(c.streamID); err != nil {
		c.logger.Warn("stop-audio directive failed",
			slog.String("reason_code", string(errorsx.ReasonTransportStop)),
			slog.String("error", err.Error()))
	}
	if err := c.Transition(StateIdle, "barge-in"); err == nil {
		c.logger.Info("barge-in",
			slog.Duration("stop_latency", time.Since(start)),
			slog.String("stream_id", c.streamID))
	}
}

// OnPlaybackStarted implements PlaybackObserver.
func (c *Controller) OnPlaybackStarted() {
	_ = c.Transition(StatePlaying, "playback started")
}

// OnPlaybackFinished implements PlaybackObserver. After a barge-in the
// controller is already Idle and the late notification is a no-op.
func (c *Controller) OnPlaybackFinished(reason string) {
	if c.State() == StatePlaying {
		_ = c.Transition(StateIdle, reason)
	}
}

var _ speech.BargeSignal = (*Controller)(nil)
var _ PlaybackObserver = (*Controller)(nil)
