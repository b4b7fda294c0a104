package rtvoice

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtvoice/rtvoice/pkg/sessionkeys"
	"github.com/rtvoice/rtvoice/pkg/sessionstore"
	"github.com/rtvoice/rtvoice/pkg/transports"
	"github.com/rtvoice/rtvoice/pkg/transports/mock"
	"github.com/rtvoice/rtvoice/pkg/turnstream"
)

func testConfig() Config {
	return Config{
		Namespace:   "rtvoice",
		Environment: "test",
		LogLevel:    "error",
		Turn:        TurnConfig{QueueCapacity: 4, CancelDeadlineMS: 500},
		Vendors: VendorsConfig{
			STT: VendorConfig{Provider: "mock", Settings: map[string]any{"transcript": "book me a table"}},
			LLM: VendorConfig{Provider: "mock", Settings: map[string]any{"response_text": "Sure, for how many people?"}},
			TTS: VendorConfig{Provider: "mock"},
		},
		Transport: VendorConfig{Provider: "mock"},
		Lifecycle: LifecycleConfig{DrainTimeoutMS: 5000},
	}
}

func setupEngine(t *testing.T) (*Engine, *mock.Transport, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	keys := sessionkeys.NewManager("rtvoice", "test")
	store := sessionstore.NewRedisStore(client, keys, nil)

	tr := mock.New()
	e := NewEngine(EngineOptions{
		Config:    testConfig(),
		Transport: tr,
		Store:     store,
	})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e, tr, mr
}

func TestEngineHandlesFullCallTurn(t *testing.T) {
	e, tr, _ := setupEngine(t)

	tr.Inject(transports.Event{Type: transports.EventCallStart, CallID: "CA1", StreamID: "MZ1", TraceID: "tr-1", From: "+15550001"})
	assert.Eventually(t, func() bool { return e.ActiveCalls() == 1 }, 2*time.Second, 10*time.Millisecond)

	tr.Inject(transports.Event{Type: transports.EventAudio, CallID: "CA1", StreamID: "MZ1", Audio: []byte{0xFF, 0xFF}})

	// The scripted recognizer finalizes a turn, the mock responder replies,
	// and the synthesized audio reaches the transport.
	assert.Eventually(t, func() bool { return len(tr.Chunks()) > 0 }, 2*time.Second, 10*time.Millisecond)

	var sawUser, sawAssistant bool
	deadline := time.After(2 * time.Second)
	for !(sawUser && sawAssistant) {
		select {
		case ev := <-e.TurnEvents():
			switch ev.Type {
			case turnstream.TypeUser:
				sawUser = true
				assert.Equal(t, "book me a table", ev.Text)
			case turnstream.TypeAssistant:
				sawAssistant = true
				assert.Equal(t, "Sure, for how many people?", ev.Text)
			}
		case <-deadline:
			t.Fatalf("missing turn events (user=%v assistant=%v)", sawUser, sawAssistant)
		}
	}
}

func TestEngineCallEndPersistsTerminalState(t *testing.T) {
	e, tr, mr := setupEngine(t)

	tr.Inject(transports.Event{Type: transports.EventCallStart, CallID: "CA2", StreamID: "MZ2", TraceID: "tr-2"})
	assert.Eventually(t, func() bool { return e.ActiveCalls() == 1 }, 2*time.Second, 10*time.Millisecond)

	tr.Inject(transports.Event{Type: transports.EventCallEnd, CallID: "CA2", Reason: "completed"})
	assert.Eventually(t, func() bool { return e.ActiveCalls() == 0 }, 2*time.Second, 10*time.Millisecond)

	key := "rtvoice:test:conversation:CA2:session"
	require.True(t, mr.Exists(key), "terminal session state should be persisted")
	assert.Equal(t, sessionkeys.ExtendedRetentionTTL, mr.TTL(key))
}

func TestEngineDTMFUpdatesContext(t *testing.T) {
	e, tr, mr := setupEngine(t)

	tr.Inject(transports.Event{Type: transports.EventCallStart, CallID: "CA3", StreamID: "MZ3", TraceID: "tr-3"})
	assert.Eventually(t, func() bool { return e.ActiveCalls() == 1 }, 2*time.Second, 10*time.Millisecond)

	tr.Inject(transports.Event{Type: transports.EventDTMF, CallID: "CA3", Digit: "5"})

	key := "rtvoice:test:conversation:CA3:context"
	assert.Eventually(t, func() bool {
		if !mr.Exists(key) {
			return false
		}
		val, err := mr.Get(key)
		return err == nil && strings.Contains(val, `"last_dtmf":"5"`)
	}, 2*time.Second, 10*time.Millisecond)
}
