package tts

import "context"

// Synthesizer defines the contract for any TTS vendor implementation.
// Synthesis is per-segment: the playback task calls it once per flushed text
// segment and streams the returned audio, which keeps every segment a
// cancellation checkpoint.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders one text segment to encoded audio.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config contains vendor-agnostic synthesis configuration.
type Config struct {
	CallID     string
	StreamID   string
	SampleRate int
	Channels   int
	Voice      string
}
