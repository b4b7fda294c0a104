package responder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rtvoice/rtvoice/pkg/adapters/tts"
	"github.com/rtvoice/rtvoice/pkg/errorsx"
	"github.com/rtvoice/rtvoice/pkg/llm"
	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/resilience"
)

// segment flush bounds: synthesize at sentence punctuation or once the
// pending text grows past maxSegmentRunes, so audio starts before the full
// reply is generated.
const maxSegmentRunes = 120

// Pipeline chains an LLM streamer and a TTS synthesizer into a Responder.
// Each flushed segment is one synthesis call and one cancellation checkpoint.
type Pipeline struct {
	llm     llm.Streamer
	tts     tts.Synthesizer
	breaker *resilience.CircuitBreaker
	prompt  string
	logger  *slog.Logger
}

func NewPipeline(streamer llm.Streamer, synth tts.Synthesizer, basePrompt string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		llm:     streamer,
		tts:     synth,
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		prompt:  basePrompt,
		logger:  logging.NewComponentLogger(logger, "responder"),
	}
}

func (p *Pipeline) Name() string { return "pipeline_responder" }

func (p *Pipeline) Respond(ctx context.Context, req Request) (<-chan Chunk, error) {
	if !p.breaker.Allow() {
		return nil, errorsx.Wrap(resilience.RateLimitError{Provider: p.llm.Name()}, errorsx.ReasonLLMRateLimit)
	}

	deltas, err := p.llm.Stream(ctx, p.buildContext(req))
	if err != nil {
		p.breaker.OnError(err)
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	p.breaker.OnSuccess()

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		var full strings.Builder
		var pending strings.Builder
		for delta := range deltas {
			select {
			case <-ctx.Done():
				return
			default:
			}
			full.WriteString(delta)
			pending.WriteString(delta)
			if !segmentReady(pending.String()) {
				continue
			}
			if !p.emitSegment(ctx, out, full.String(), pending.String()) {
				return
			}
			pending.Reset()
		}
		if pending.Len() > 0 {
			if !p.emitSegment(ctx, out, full.String(), pending.String()) {
				return
			}
		}
		select {
		case out <- Chunk{Text: full.String(), Final: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// emitSegment synthesizes one segment and pushes it downstream. Returns false
// once cancellation was observed.
func (p *Pipeline) emitSegment(ctx context.Context, out chan<- Chunk, full, segment string) bool {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return true
	}
	audio, err := p.tts.Synthesize(ctx, segment)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		// A failed segment keeps the text stream alive; the reply is still
		// usable through the turn-stream events.
		p.logger.Warn("segment synthesis failed",
			slog.String("reason_code", string(errorsx.ReasonTTSSynthesize)),
			slog.String("error", err.Error()))
	}
	select {
	case out <- Chunk{Text: full, Audio: audio}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) buildContext(req Request) llm.Context {
	input := llm.Context{System: p.prompt}
	for _, msg := range req.State.History {
		input.Messages = append(input.Messages, llm.Message{Role: msg.Role, Content: msg.Text})
	}
	input.Messages = append(input.Messages, llm.Message{Role: "user", Content: req.Text})
	return input
}

func segmentReady(pending string) bool {
	trimmed := strings.TrimSpace(pending)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return len([]rune(trimmed)) >= maxSegmentRunes
}

var _ Responder = (*Pipeline)(nil)
