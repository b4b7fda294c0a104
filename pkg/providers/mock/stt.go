package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rtvoice/rtvoice/pkg/adapters/stt"
	"github.com/rtvoice/rtvoice/pkg/speech"
)

type STTConfig struct {
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	Language          string
}

// Recognizer emits a scripted transcript on the first audio chunk: optionally
// an interim partial, then the final. Useful for exercising the barge and
// turn paths without a live vendor connection.
type Recognizer struct {
	cfg     STTConfig
	handler speech.Handler
	mu      sync.Mutex
	started bool
	emitted bool
}

func NewRecognizer(cfg STTConfig, handler speech.Handler) *Recognizer {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Recognizer{cfg: cfg, handler: handler}
}

func (s *Recognizer) Name() string { return "mock_stt" }

func (s *Recognizer) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Recognizer) Close() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *Recognizer) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.emitted {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	s.mu.Unlock()

	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.handler.OnPartial(speech.Result{
			Text:      interim,
			Language:  s.cfg.Language,
			Timestamp: time.Now().UTC(),
		})
	}
	s.handler.OnFinal(speech.Result{
		Text:       s.cfg.Transcript,
		IsFinal:    true,
		Confidence: 1,
		Language:   s.cfg.Language,
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

var _ stt.Recognizer = (*Recognizer)(nil)
