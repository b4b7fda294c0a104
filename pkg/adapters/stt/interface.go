package stt

import "context"

// Recognizer defines the contract for any streaming STT vendor
// implementation. Transcription results are delivered through the
// speech.Handler the recognizer was constructed with, on the recognizer's own
// goroutine.
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the recognizer connection.
	Start(ctx context.Context) error
	// Close shuts down the recognizer connection.
	Close() error
	// SendAudio forwards one raw audio chunk to the recognizer.
	SendAudio(chunk []byte) error
}

// Config contains vendor-agnostic recognizer configuration. CallID is the
// external telephony correlation id.
type Config struct {
	CallID     string
	StreamID   string
	TraceID    string
	SampleRate int
	Encoding   string
	Language   string
	Interim    bool
}
