package llm

import "context"

// Message is one chat turn in provider-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is the provider-neutral generation input.
type Context struct {
	System   string
	Messages []Message
}

// Streamer generates a reply as a stream of text deltas. The channel closes
// when generation finishes or ctx is cancelled; implementations must observe
// ctx between deltas so cancellation unwinds promptly.
type Streamer interface {
	Name() string
	Stream(ctx context.Context, input Context) (<-chan string, error)
}
