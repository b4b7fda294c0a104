package mock

import (
	"context"
	"sync"
	"time"

	"github.com/rtvoice/rtvoice/pkg/transports"
)

// SentChunk records one outbound audio write.
type SentChunk struct {
	StreamID string
	Data     []byte
	At       time.Time
}

// StopCall records one stop-audio directive.
type StopCall struct {
	StreamID string
	At       time.Time
}

// Transport is an in-memory MediaTransport for tests. Inbound events are
// injected with Inject; outbound traffic is recorded with timestamps so tests
// can assert on ordering and latency.
type Transport struct {
	mu      sync.Mutex
	started bool
	chunks  []SentChunk
	stops   []StopCall
	events  chan transports.Event

	// SendDelay simulates a slow transport write when non-zero.
	SendDelay time.Duration
}

func New() *Transport {
	return &Transport{events: make(chan transports.Event, 64)}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		t.started = false
		close(t.events)
	}
	return nil
}

func (t *Transport) SendAudio(streamID string, chunk []byte) error {
	if t.SendDelay > 0 {
		time.Sleep(t.SendDelay)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, SentChunk{StreamID: streamID, Data: append([]byte(nil), chunk...), At: time.Now()})
	return nil
}

func (t *Transport) StopAudio(streamID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops = append(t.stops, StopCall{StreamID: streamID, At: time.Now()})
	return nil
}

func (t *Transport) Events() <-chan transports.Event { return t.events }

// Inject feeds an inbound event to the consumer.
func (t *Transport) Inject(ev transports.Event) {
	t.events <- ev
}

func (t *Transport) Chunks() []SentChunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SentChunk(nil), t.chunks...)
}

func (t *Transport) Stops() []StopCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]StopCall(nil), t.stops...)
}

var _ transports.MediaTransport = (*Transport)(nil)
