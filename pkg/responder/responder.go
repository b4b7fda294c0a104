package responder

import (
	"context"

	"github.com/rtvoice/rtvoice/pkg/conversation"
)

// Chunk is one increment of a streamed response. Text carries the cumulative
// assistant text so far (later chunks replace earlier ones for display);
// Audio carries newly synthesized audio for the most recent segment. Final is
// set on the closing chunk.
type Chunk struct {
	Text  string
	Audio []byte
	Final bool
}

// Request carries one finalized turn into response generation.
type Request struct {
	TurnID string
	Text   string
	State  conversation.State
}

// Responder turns a user turn plus conversation state into a streamed reply.
// The returned channel closes on completion or once ctx cancellation has been
// observed; implementations must treat every send as a cancellation
// checkpoint.
type Responder interface {
	Name() string
	Respond(ctx context.Context, req Request) (<-chan Chunk, error)
}
