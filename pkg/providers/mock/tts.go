package mock

import (
	"context"

	"github.com/rtvoice/rtvoice/pkg/adapters/tts"
)

type TTSConfig struct {
	FrameSize int
	Err       error
}

// Synthesizer returns a deterministic silent frame for every segment.
type Synthesizer struct {
	cfg TTSConfig
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.FrameSize == 0 {
		cfg.FrameSize = 320
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.cfg.Err != nil {
		return nil, s.cfg.Err
	}
	return make([]byte, s.cfg.FrameSize), nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
