package rtvoice

import (
	"context"
	"log/slog"
	"time"

	"github.com/rtvoice/rtvoice/pkg/adapters/stt"
	"github.com/rtvoice/rtvoice/pkg/conversation"
	"github.com/rtvoice/rtvoice/pkg/redact"
	"github.com/rtvoice/rtvoice/pkg/responder"
	"github.com/rtvoice/rtvoice/pkg/sessionkeys"
	"github.com/rtvoice/rtvoice/pkg/sessionstore"
	"github.com/rtvoice/rtvoice/pkg/speech"
	"github.com/rtvoice/rtvoice/pkg/transports"
	"github.com/rtvoice/rtvoice/pkg/turn"
	"github.com/rtvoice/rtvoice/pkg/turnstream"
)

// callSession owns the full per-call wiring: recognizer callbacks feed the
// bridge, partials hit the barge-in controller, finals queue turns that the
// loop schedules through the playback supervisor onto the transport. Nothing
// here is shared across calls.
type callSession struct {
	callID     string
	streamID   string
	traceID    string
	recognizer stt.Recognizer
	bridge     *speech.Bridge
	queue      *turn.Queue
	supervisor *turn.Supervisor
	controller *turn.Controller
	loop       *turn.Loop
	conv       *conversation.Manager
	cancel     context.CancelFunc
	logger     *slog.Logger
}

type sessionDeps struct {
	cfg       Config
	registry  *ProviderRegistry
	transport transports.MediaTransport
	store     sessionstore.Loader
	keys      *sessionkeys.Manager
	emitter   turnstream.Emitter
	logger    *slog.Logger
}

func newCallSession(ctx context.Context, ev transports.Event, deps sessionDeps) (*callSession, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	logger := deps.logger.With(
		slog.String("call_id", ev.CallID),
		slog.String("stream_id", ev.StreamID),
		slog.String("trace_id", ev.TraceID),
	)

	conv := conversation.FromStore(sessCtx, ev.CallID, deps.store, deps.keys, logger)
	if ev.From != "" {
		conv.UpdateContext(map[string]any{"from_number": ev.From})
	}

	streamer, err := deps.registry.BuildLLM(deps.cfg.Vendors.LLM.Provider, deps.cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	synth, err := deps.registry.BuildTTS(deps.cfg.Vendors.TTS.Provider, deps.cfg, ev.StreamID, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	pipeline := responder.NewPipeline(streamer, synth, deps.cfg.BasePrompt, logger)
	queue := turn.NewQueue(deps.cfg.Turn.QueueCapacity, logger)
	supervisor := turn.NewSupervisor(pipeline, deps.transport, turn.SupervisorOptions{
		StreamID:       ev.StreamID,
		CancelDeadline: time.Duration(deps.cfg.Turn.CancelDeadlineMS) * time.Millisecond,
		Emitter:        deps.emitter,
		Logger:         logger,
	})
	controller := turn.NewController(supervisor, deps.transport, ev.StreamID, logger)
	loop := turn.NewLoop(queue, supervisor, conv, turn.LoopOptions{
		CallID:  ev.CallID,
		Emitter: deps.emitter,
		Logger:  logger,
	})
	bridge := speech.NewBridge(queue, controller, logger)

	recognizer, err := deps.registry.BuildSTT(deps.cfg.Vendors.STT.Provider, deps.cfg, stt.Config{
		CallID:     ev.CallID,
		StreamID:   ev.StreamID,
		TraceID:    ev.TraceID,
		SampleRate: 8000,
		Encoding:   "mulaw",
		Interim:    true,
	}, bridge, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := recognizer.Start(sessCtx); err != nil {
		cancel()
		return nil, err
	}

	s := &callSession{
		callID:     ev.CallID,
		streamID:   ev.StreamID,
		traceID:    ev.TraceID,
		recognizer: recognizer,
		bridge:     bridge,
		queue:      queue,
		supervisor: supervisor,
		controller: controller,
		loop:       loop,
		conv:       conv,
		cancel:     cancel,
		logger:     logger,
	}
	go func() {
		if err := loop.Run(sessCtx); err != nil && sessCtx.Err() == nil {
			logger.Error("turn loop exited", slog.String("error", err.Error()))
		}
	}()

	logger.Info("session started")
	return s, nil
}

// handleAudio forwards one inbound media chunk to the recognizer.
func (s *callSession) handleAudio(chunk []byte) {
	if err := s.recognizer.SendAudio(chunk); err != nil {
		s.logger.Debug("audio forward failed", slog.String("error", err.Error()))
	}
}

// handleDTMF records the digit on conversation context.
func (s *callSession) handleDTMF(ctx context.Context, digit string) {
	s.conv.UpdateContext(map[string]any{"last_dtmf": digit})
	if err := s.conv.Persist(ctx); err != nil {
		s.logger.Warn("dtmf persist failed", slog.String("error", err.Error()))
	}
}

// close tears the session down: deactivate the bridge first so late
// recognizer callbacks become no-ops, then stop playback and persist the
// terminal state under the extended retention TTL.
func (s *callSession) close(reason string) {
	s.bridge.Close()
	s.cancel()
	_ = s.recognizer.Close()
	s.supervisor.Cancel()

	s.conv.UpdateContext(map[string]any{"end_reason": reason})
	s.conv.MarkCompleted()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.conv.Persist(ctx); err != nil {
		s.logger.Warn("terminal persist failed", slog.String("error", err.Error()))
	}
	// The context map can hold caller identifiers; it only reaches the log
	// through the redaction filter.
	s.logger.Info("session closed",
		slog.String("reason", reason),
		slog.Any("context", redact.Context(s.conv.Snapshot().Context)))
}
