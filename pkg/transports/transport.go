package transports

import (
	"context"
)

// MediaTransport is the telephony/media boundary. Implementations own their
// network lifecycle; the orchestration core only pushes audio out, asks for
// playback to stop, and consumes call events.
type MediaTransport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// SendAudio streams one synthesized audio chunk to a call's media stream.
	SendAudio(streamID string, chunk []byte) error
	// StopAudio tells the transport to drop any buffered outbound audio for
	// the stream immediately. Called on barge-in; must not block on in-flight
	// writes.
	StopAudio(streamID string) error
	// Events delivers call lifecycle and inbound media events.
	Events() <-chan Event
}

// EventType classifies transport events.
type EventType string

const (
	EventCallStart EventType = "call_start"
	EventAudio     EventType = "audio"
	EventDTMF      EventType = "dtmf"
	EventCallEnd   EventType = "call_end"
)

// Event is one inbound transport event. CallID is the external correlation id
// (e.g. the Twilio call SID) and is the identifier sessions key their state by.
type Event struct {
	Type     EventType
	StreamID string
	CallID   string
	TraceID  string
	From     string
	Audio    []byte
	Digit    string
	Reason   string
}
