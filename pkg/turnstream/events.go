package turnstream

import (
	"time"
)

// Type identifies one turn-stream event kind exchanged with the application
// layer. The wire transport for these events belongs to the caller; this core
// only produces and consumes the payload shapes.
type Type string

const (
	// TypeUser carries final user text for one turn.
	TypeUser Type = "user"
	// TypeAssistantStreaming carries partial assistant text; a later event of
	// the same type for the same turn replaces the prior partial.
	TypeAssistantStreaming Type = "assistant_streaming"
	// TypeAssistant carries final assistant text.
	TypeAssistant Type = "assistant"
	// TypeStatus carries out-of-band status text (e.g. barge-in, degraded cache).
	TypeStatus Type = "status"

	TypeToolStart    Type = "tool_start"
	TypeToolProgress Type = "tool_progress"
	TypeToolEnd      Type = "tool_end"
)

// Event is one turn-stream payload.
type Event struct {
	Type      Type           `json:"type"`
	TurnID    string         `json:"turn_id,omitempty"`
	Text      string         `json:"text,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Emitter delivers events to the application layer. Implementations must not
// block the turn loop.
type Emitter interface {
	Emit(ev Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// ChannelEmitter buffers events on a channel, dropping when full.
type ChannelEmitter struct {
	ch chan Event
}

func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

func (e *ChannelEmitter) Emit(ev Event) {
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *ChannelEmitter) Events() <-chan Event { return e.ch }

// User builds a final-user-text event.
func User(turnID, text string) Event {
	return Event{Type: TypeUser, TurnID: turnID, Text: text, Timestamp: time.Now().UTC()}
}

// AssistantStreaming builds a partial assistant event for a turn.
func AssistantStreaming(turnID, text string) Event {
	return Event{Type: TypeAssistantStreaming, TurnID: turnID, Text: text, Timestamp: time.Now().UTC()}
}

// Assistant builds a final assistant event for a turn.
func Assistant(turnID, text string) Event {
	return Event{Type: TypeAssistant, TurnID: turnID, Text: text, Timestamp: time.Now().UTC()}
}

// Status builds a status event.
func Status(text string, data map[string]any) Event {
	return Event{Type: TypeStatus, Text: text, Data: data, Timestamp: time.Now().UTC()}
}

// ToolStart, ToolProgress and ToolEnd describe a side-channel tool invocation.
func ToolStart(turnID, tool string) Event {
	return Event{Type: TypeToolStart, TurnID: turnID, Tool: tool, Timestamp: time.Now().UTC()}
}

func ToolProgress(turnID, tool string, data map[string]any) Event {
	return Event{Type: TypeToolProgress, TurnID: turnID, Tool: tool, Data: data, Timestamp: time.Now().UTC()}
}

func ToolEnd(turnID, tool string, data map[string]any) Event {
	return Event{Type: TypeToolEnd, TurnID: turnID, Tool: tool, Data: data, Timestamp: time.Now().UTC()}
}
