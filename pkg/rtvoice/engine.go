package rtvoice

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/redact"
	"github.com/rtvoice/rtvoice/pkg/runner"
	"github.com/rtvoice/rtvoice/pkg/sessionkeys"
	"github.com/rtvoice/rtvoice/pkg/sessionstore"
	"github.com/rtvoice/rtvoice/pkg/transports"
	"github.com/rtvoice/rtvoice/pkg/turnstream"
)

// Engine is the process-level coordinator: one transport, one Redis-backed
// store, and an arena of per-call sessions keyed by call id. All playback and
// barge-in state lives inside the sessions; the engine only routes events.
type Engine struct {
	cfg       Config
	transport transports.MediaTransport
	registry  *ProviderRegistry
	store     sessionstore.Loader
	keys      *sessionkeys.Manager
	emitter   turnstream.Emitter
	runner    *runner.LifecycleRunner
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*callSession

	ctx    context.Context
	cancel context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Transport transports.MediaTransport
	Providers *ProviderRegistry
	// Emitter receives turn-stream events for the application layer. Defaults
	// to a buffered channel emitter reachable via Engine.TurnEvents.
	Emitter turnstream.Emitter
	// Store overrides the Redis-backed store, used by tests.
	Store sessionstore.Loader
}

func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config
	logging.InitLogger(logging.ParseLevel(cfg.LogLevel))
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger := logging.NewComponentLogger(slog.Default(), "engine")

	slog.Info("rtvoice_init",
		"environment", cfg.Environment,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"transport", cfg.Transport.Provider,
	)

	registry := opts.Providers
	if registry == nil {
		registry = DefaultRegistry()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = turnstream.NewChannelEmitter(256)
	}

	keys := sessionkeys.NewManager(cfg.Namespace, cfg.Environment)
	store := opts.Store
	if store == nil {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = sessionstore.NewRedisStore(client, keys, slog.Default())
	}

	e := &Engine{
		cfg:       cfg,
		transport: opts.Transport,
		registry:  registry,
		store:     store,
		keys:      keys,
		emitter:   emitter,
		logger:    logger,
		sessions:  make(map[string]*callSession),
	}

	hooks := runner.Hooks{
		OnStart: func() {
			slog.Info("engine_ready", "transport", opts.Transport.Name())
		},
		OnStop: func() {
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", e.ActiveCalls())
		},
	}
	drainer := runner.DrainerFunc(func() error {
		if e.transport != nil {
			_ = e.transport.Stop()
		}
		e.closeAll("drain")
		return nil
	})
	e.runner = runner.NewLifecycleRunner(drainer, hooks, time.Duration(cfg.Lifecycle.DrainTimeoutMS)*time.Millisecond)
	return e
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(e.ctx)
	g.Go(func() error {
		e.routeEvents(gctx)
		return nil
	})
	go func() { _ = g.Wait() }()
	go func() { _ = e.runner.Run(e.ctx) }()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

// TurnEvents exposes the default emitter's channel when no custom emitter was
// supplied.
func (e *Engine) TurnEvents() <-chan turnstream.Event {
	if ce, ok := e.emitter.(*turnstream.ChannelEmitter); ok {
		return ce.Events()
	}
	return nil
}

func (e *Engine) ActiveCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) routeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.transport.Events():
			if !ok {
				return
			}
			if ev.CallID == "" {
				continue
			}
			switch ev.Type {
			case transports.EventCallStart:
				e.startSession(ctx, ev)
			case transports.EventAudio:
				if s := e.session(ev.CallID); s != nil {
					s.handleAudio(ev.Audio)
				}
			case transports.EventDTMF:
				if s := e.session(ev.CallID); s != nil {
					s.handleDTMF(ctx, ev.Digit)
				}
			case transports.EventCallEnd:
				e.endSession(ev.CallID, ev.Reason)
			}
		}
	}
}

func (e *Engine) startSession(ctx context.Context, ev transports.Event) {
	e.mu.Lock()
	if old := e.sessions[ev.CallID]; old != nil {
		delete(e.sessions, ev.CallID)
		e.mu.Unlock()
		// A restarted media stream for the same call replaces the session.
		old.close("reconnect")
		e.mu.Lock()
	}
	e.mu.Unlock()

	s, err := newCallSession(ctx, ev, sessionDeps{
		cfg:       e.cfg,
		registry:  e.registry,
		transport: e.transport,
		store:     e.store,
		keys:      e.keys,
		emitter:   e.emitter,
		logger:    e.logger,
	})
	if err != nil {
		e.logger.Error("session start failed",
			slog.String("call_id", ev.CallID),
			slog.String("error", err.Error()))
		return
	}
	e.mu.Lock()
	e.sessions[ev.CallID] = s
	e.mu.Unlock()
}

func (e *Engine) endSession(callID, reason string) {
	e.mu.Lock()
	s := e.sessions[callID]
	delete(e.sessions, callID)
	e.mu.Unlock()
	if s == nil {
		return
	}
	if reason == "" {
		reason = "completed"
	}
	s.close(reason)
}

func (e *Engine) session(callID string) *callSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[callID]
}

func (e *Engine) closeAll(reason string) {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*callSession)
	e.mu.Unlock()
	for _, s := range sessions {
		s.close(reason)
	}
}
