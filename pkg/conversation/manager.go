package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/sessionkeys"
	"github.com/rtvoice/rtvoice/pkg/sessionstore"
)

// Message is one history entry. History is append-only and chronological.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the persisted conversation state. Context fields merge
// last-write-wins; History only grows.
type State struct {
	Context map[string]any `json:"context"`
	History []Message      `json:"history"`
}

func newState() State {
	return State{Context: make(map[string]any)}
}

// Manager owns one identifier's conversation state and its read-modify-persist
// cycle. Persistence is last-write-wins with no optimistic locking; a stale
// in-memory copy overwrites on the next Persist. When the cache is
// unreachable the manager keeps serving from memory and retries on the next
// Persist instead of failing the turn loop.
type Manager struct {
	mu       sync.Mutex
	id       string
	store    sessionstore.Loader
	keys     *sessionkeys.Manager
	logger   *slog.Logger
	state    State
	terminal bool
	degraded bool
}

// FromStore loads state for an identifier via the store's legacy-aware
// lookup, constructing fresh state on a miss. Cache failures degrade to
// in-memory state rather than erroring.
func FromStore(ctx context.Context, identifier string, store sessionstore.Loader, keys *sessionkeys.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		id:     identifier,
		store:  store,
		keys:   keys,
		logger: logging.NewComponentLogger(logger, "conversation").With(slog.String("call_id", identifier)),
		state:  newState(),
	}

	data, err := store.LoadOrMigrate(ctx, identifier)
	switch {
	case err == nil:
		var st State
		if uerr := json.Unmarshal(data, &st); uerr != nil {
			m.logger.Warn("stored session state unreadable, starting fresh",
				slog.String("error", uerr.Error()))
		} else {
			if st.Context == nil {
				st.Context = make(map[string]any)
			}
			m.state = st
		}
	case errors.Is(err, sessionstore.ErrNotFound):
		m.seedHistory(ctx)
	default:
		m.degraded = true
		m.logger.Warn("session cache unavailable, continuing in memory",
			slog.String("error", err.Error()))
	}
	return m
}

// seedHistory picks up history that was migrated from a flat legacy key when
// no session blob existed.
func (m *Manager) seedHistory(ctx context.Context) {
	key := m.keys.BuildKey(sessionkeys.DataTypeConversation, m.id, sessionkeys.ComponentHistory)
	data, err := m.store.Get(ctx, key.String())
	if err != nil {
		return
	}
	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		return
	}
	m.state.History = history
}

func (m *Manager) ID() string { return m.id }

// Degraded reports whether the last cache interaction failed.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// UpdateContext merges fields into the context map, last write wins per field.
func (m *Manager) UpdateContext(partial map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range partial {
		m.state.Context[k] = v
	}
}

// AppendHistory appends one entry; history is never rewritten.
func (m *Manager) AppendHistory(role, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.History = append(m.state.History, Message{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

// MarkCompleted flags the session terminal; subsequent persists use the
// extended analytics retention TTL.
func (m *Manager) MarkCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminal = true
}

// Snapshot returns a copy of the current state for read-only use.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	out := State{
		Context: make(map[string]any, len(m.state.Context)),
		History: make([]Message, len(m.state.History)),
	}
	for k, v := range m.state.Context {
		out.Context[k] = v
	}
	copy(out.History, m.state.History)
	return out
}

// Persist writes the session blob plus the per-component context and history
// keys. A cache failure is logged and absorbed; the full state is written
// again on the next call, which is the retry. Never returns a fatal error to
// the turn loop.
func (m *Manager) Persist(ctx context.Context) error {
	// Marshal works on a deep copy: the live map and slice keep changing under
	// concurrent UpdateContext/AppendHistory callers.
	m.mu.Lock()
	state := m.snapshotLocked()
	terminal := m.terminal
	m.mu.Unlock()

	ttl := m.keys.DefaultTTL(sessionkeys.DataTypeConversation)
	if terminal {
		ttl = sessionkeys.ExtendedRetentionTTL
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	contextData, err := json.Marshal(state.Context)
	if err != nil {
		return err
	}
	historyData, err := json.Marshal(state.History)
	if err != nil {
		return err
	}

	entries := map[string][]byte{
		m.keys.BuildKey(sessionkeys.DataTypeConversation, m.id, sessionkeys.ComponentSession).String(): blob,
		m.keys.BuildKey(sessionkeys.DataTypeConversation, m.id, sessionkeys.ComponentContext).String(): contextData,
		m.keys.BuildKey(sessionkeys.DataTypeConversation, m.id, sessionkeys.ComponentHistory).String(): historyData,
	}
	if err := m.store.SetMulti(ctx, entries, ttl); err != nil {
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		m.logger.Warn("persist failed, keeping state in memory",
			slog.String("error", err.Error()))
		return nil
	}

	m.mu.Lock()
	m.degraded = false
	m.mu.Unlock()
	return nil
}
