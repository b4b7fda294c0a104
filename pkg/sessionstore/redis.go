package sessionstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rtvoice/rtvoice/pkg/errorsx"
	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/sessionkeys"
)

const (
	defaultMarkerTTL   = 30 * time.Second
	markerWaitStep     = 50 * time.Millisecond
	markerWaitMax      = 2 * time.Second
	migratingComponent = "migrating"
)

// RedisStore implements Loader against Redis.
type RedisStore struct {
	client *redis.Client
	keys   *sessionkeys.Manager
	logger *slog.Logger

	// Serializes migration per identifier within this process. Cross-process
	// callers are fenced by a short-lived marker key.
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	markerTTL time.Duration
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithMarkerTTL overrides the advisory migration marker TTL.
func WithMarkerTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.markerTTL = ttl
		}
	}
}

func NewRedisStore(client *redis.Client, keys *sessionkeys.Manager, logger *slog.Logger, opts ...Option) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RedisStore{
		client:    client,
		keys:      keys,
		logger:    logging.NewComponentLogger(logger, "session_store"),
		locks:     make(map[string]*sync.Mutex),
		markerTTL: defaultMarkerTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonCacheGet)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCacheSet)
	}
	return nil
}

// SetMulti pipelines the writes so a multi-component persist costs one round
// trip.
func (s *RedisStore) SetMulti(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for key, value := range entries {
		pipe.Set(ctx, key, value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCacheSet)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCacheDelete)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonCacheScan)
	}
	return keys, nil
}

// LoadOrMigrate resolves session state for an identifier with the three-tier
// lookup: structured key, legacy key, not-found. The legacy key is deleted
// only after the structured write succeeded, so a crash mid-migration leaves
// the legacy value readable and the whole operation idempotent.
func (s *RedisStore) LoadOrMigrate(ctx context.Context, identifier string) ([]byte, error) {
	structured := s.keys.BuildKey(sessionkeys.DataTypeConversation, identifier, sessionkeys.ComponentSession)

	data, err := s.Get(ctx, structured.String())
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	lock := s.identifierLock(identifier)
	lock.Lock()
	defer lock.Unlock()

	marker := s.keys.BuildKey(sessionkeys.DataTypeCache, identifier, migratingComponent).String()
	acquired, err := s.acquireMarker(ctx, marker)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// Another process is migrating; wait for its marker to clear and
		// re-read the structured key.
		if err := s.waitMarker(ctx, marker); err != nil {
			return nil, err
		}
		return s.Get(ctx, structured.String())
	}
	defer func() {
		_ = s.client.Del(context.WithoutCancel(ctx), marker).Err()
	}()

	// Re-check under the marker: a racing caller may have migrated already.
	data, err = s.Get(ctx, structured.String())
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	legacy := sessionkeys.LegacySessionKey(identifier)
	data, err = s.Get(ctx, legacy)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ttl := s.keys.DefaultTTL(sessionkeys.DataTypeConversation)
	if err := s.Set(ctx, structured.String(), data, ttl); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonCacheMigrate)
	}
	if err := s.Delete(ctx, legacy); err != nil {
		// The structured copy is in place; a leftover legacy key is harmless
		// and will be removed on the next lookup or sweep.
		s.logger.Warn("legacy key delete failed after migration",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()))
	}
	s.migrateLegacyHistory(ctx, identifier)

	s.logger.Info("migrated legacy session key",
		slog.String("identifier", identifier),
		slog.String("structured_key", structured.String()))
	return data, nil
}

// migrateLegacyHistory moves a flat <id>:hist entry alongside the session
// migration so history and session state stay under the same key scheme.
func (s *RedisStore) migrateLegacyHistory(ctx context.Context, identifier string) {
	legacy := sessionkeys.LegacyHistoryKey(identifier)
	data, err := s.Get(ctx, legacy)
	if err != nil {
		return
	}
	target := s.keys.BuildKey(sessionkeys.DataTypeConversation, identifier, sessionkeys.ComponentHistory)
	ttl := s.keys.DefaultTTL(sessionkeys.DataTypeConversation)
	if err := s.Set(ctx, target.String(), data, ttl); err != nil {
		s.logger.Warn("legacy history migration failed",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()))
		return
	}
	_ = s.Delete(ctx, legacy)
}

// SweepLegacyKeys scans for keys matching pattern and migrates every one with
// a known legacy shape. Unrecognized keys are left untouched. Intended for
// background maintenance, not the call path.
func (s *RedisStore) SweepLegacyKeys(ctx context.Context, pattern string) (int, error) {
	keys, err := s.Scan(ctx, pattern)
	if err != nil {
		return 0, err
	}
	migrated := 0
	for _, legacy := range keys {
		target, ok := s.keys.MigrateLegacyKey(legacy)
		if !ok {
			continue
		}
		data, err := s.Get(ctx, legacy)
		if err != nil {
			continue
		}
		ttl := s.keys.DefaultTTL(target.Type)
		if err := s.Set(ctx, target.String(), data, ttl); err != nil {
			s.logger.Warn("legacy sweep write failed",
				slog.String("legacy_key", legacy),
				slog.String("error", err.Error()))
			continue
		}
		if err := s.Delete(ctx, legacy); err != nil {
			continue
		}
		migrated++
	}
	return migrated, nil
}

func (s *RedisStore) acquireMarker(ctx context.Context, marker string) (bool, error) {
	ok, err := s.client.SetNX(ctx, marker, "1", s.markerTTL).Result()
	if err != nil {
		return false, errorsx.Wrap(err, errorsx.ReasonCacheMigrate)
	}
	return ok, nil
}

func (s *RedisStore) waitMarker(ctx context.Context, marker string) error {
	deadline := time.Now().Add(markerWaitMax)
	for time.Now().Before(deadline) {
		n, err := s.client.Exists(ctx, marker).Result()
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonCacheMigrate)
		}
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(markerWaitStep):
		}
	}
	return nil
}

func (s *RedisStore) identifierLock(identifier string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[identifier]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[identifier] = lock
	}
	return lock
}

var _ Loader = (*RedisStore)(nil)
