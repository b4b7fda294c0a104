package sessionkeys

import (
	"fmt"
	"strings"
	"time"
)

// DataType classifies what a cache entry holds and drives its TTL policy.
type DataType string

const (
	DataTypeCall         DataType = "call"
	DataTypeConversation DataType = "conversation"
	DataTypeWorker       DataType = "worker"
	DataTypeSystem       DataType = "system"
	DataTypeCache        DataType = "cache"
)

// Key components used for conversation state.
const (
	ComponentSession = "session"
	ComponentContext = "context"
	ComponentHistory = "history"
)

// Key is a structured cache key. Identifier is always a caller-supplied
// external correlation id (the telephony call SID when one exists); keys are
// never built around a synthesized id when a natural one is available.
type Key struct {
	Namespace   string
	Environment string
	Type        DataType
	Identifier  string
	Component   string
}

// String serializes the key as <namespace>:<environment>:<type>:<id>:<component>.
func (k Key) String() string {
	return strings.Join([]string{k.Namespace, k.Environment, string(k.Type), k.Identifier, k.Component}, ":")
}

type ttlRange struct {
	min time.Duration
	max time.Duration
}

var ttlRanges = map[DataType]ttlRange{
	DataTypeCall:         {30 * time.Minute, 240 * time.Minute},
	DataTypeConversation: {120 * time.Minute, 1440 * time.Minute},
	DataTypeWorker:       {5 * time.Minute, 10 * time.Minute},
	DataTypeSystem:       {60 * time.Minute, 1440 * time.Minute},
	DataTypeCache:        {5 * time.Minute, 30 * time.Minute},
}

// ExtendedRetentionTTL applies to conversation state once a session reaches a
// terminal state; the transcript is kept around for analytics before expiry.
const ExtendedRetentionTTL = 7 * 24 * time.Hour

// Manager builds structured keys and resolves per-type TTLs for one
// namespace/environment pair.
type Manager struct {
	namespace   string
	environment string
}

func NewManager(namespace, environment string) *Manager {
	if namespace == "" {
		namespace = "rtvoice"
	}
	if environment == "" {
		environment = "dev"
	}
	return &Manager{namespace: namespace, environment: environment}
}

// BuildKey assembles a structured key for the given data type.
func (m *Manager) BuildKey(dt DataType, identifier, component string) Key {
	return Key{
		Namespace:   m.namespace,
		Environment: m.environment,
		Type:        dt,
		Identifier:  identifier,
		Component:   component,
	}
}

// TTLFor resolves the TTL for a data type. A zero custom value selects the
// type's default; out-of-range values are clamped into the allowed range
// rather than rejected, so callers with slightly off values keep working.
func (m *Manager) TTLFor(dt DataType, custom time.Duration) time.Duration {
	r, ok := ttlRanges[dt]
	if !ok {
		r = ttlRanges[DataTypeCache]
	}
	if custom < r.min {
		return r.min
	}
	if custom > r.max {
		return r.max
	}
	return custom
}

// DefaultTTL returns the default TTL for a data type.
func (m *Manager) DefaultTTL(dt DataType) time.Duration {
	return m.TTLFor(dt, 0)
}

// MatchPattern returns a glob pattern matching every component key of the
// given type and identifier, for use with store scans.
func (m *Manager) MatchPattern(dt DataType, identifier string) string {
	return fmt.Sprintf("%s:%s:%s:%s:*", m.namespace, m.environment, dt, identifier)
}

// MigrateLegacyKey maps a legacy flat key onto its structured equivalent.
// Known legacy shapes:
//
//	session:<id>      -> <ns>:<env>:conversation:<id>:session
//	call:<id>:<comp>  -> <ns>:<env>:call:<id>:<comp>
//	<id>:hist         -> <ns>:<env>:conversation:<id>:history
//
// The second return is false when the key matches no known legacy shape; such
// keys are left untouched by migration.
func (m *Manager) MigrateLegacyKey(legacy string) (Key, bool) {
	switch {
	case strings.HasPrefix(legacy, "session:"):
		id := strings.TrimPrefix(legacy, "session:")
		if id == "" || strings.Contains(id, ":") {
			return Key{}, false
		}
		return m.BuildKey(DataTypeConversation, id, ComponentSession), true

	case strings.HasPrefix(legacy, "call:"):
		rest := strings.TrimPrefix(legacy, "call:")
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Key{}, false
		}
		return m.BuildKey(DataTypeCall, parts[0], parts[1]), true

	case strings.HasSuffix(legacy, ":hist"):
		id := strings.TrimSuffix(legacy, ":hist")
		if id == "" || strings.Contains(id, ":") {
			return Key{}, false
		}
		return m.BuildKey(DataTypeConversation, id, ComponentHistory), true
	}
	return Key{}, false
}

// LegacySessionKey returns the legacy flat key that may still hold session
// state for an identifier.
func LegacySessionKey(identifier string) string {
	return "session:" + identifier
}

// LegacyHistoryKey returns the legacy flat key that may still hold history
// for an identifier.
func LegacyHistoryKey(identifier string) string {
	return identifier + ":hist"
}
