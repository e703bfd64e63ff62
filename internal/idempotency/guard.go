package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dafibh/deskflow/deskflow-backend/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultRetention is how long a successful outcome is replayed
	DefaultRetention = 15 * time.Minute
	// DefaultFailureRetention is how long a failed outcome is replayed
	DefaultFailureRetention = time.Minute
	// DefaultCleanupInterval is the interval for evicting expired outcomes
	DefaultCleanupInterval = time.Minute
)

// Key derives a request key from the acting user, the operation kind and the
// operation's semantic inputs.
func Key(actorID, operation string, inputs ...string) string {
	parts := append([]string{actorID, operation}, inputs...)
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// OutcomeStore shares successful outcomes between instances
type OutcomeStore interface {
	Load(ctx context.Context, key string) (value []byte, found bool, err error)
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config holds guard settings
type Config struct {
	Retention        time.Duration
	FailureRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Retention:        DefaultRetention,
		FailureRetention: DefaultFailureRetention,
		CleanupInterval:  DefaultCleanupInterval,
	}
}

// Guard collapses duplicate requests. The first caller for a key runs the
// operation; concurrent and later callers within the retention window get
// the same outcome without running it again.
type Guard struct {
	entries map[string]*entry
	mu      sync.Mutex
	config  Config
	store   OutcomeStore
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

type entry struct {
	done      chan struct{}
	value     any
	err       error
	expiresAt time.Time
}

// NewGuard creates a Guard and starts its cleanup goroutine. store may be nil.
func NewGuard(logger zerolog.Logger, config Config, store OutcomeStore) *Guard {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.FailureRetention <= 0 {
		config.FailureRetention = DefaultFailureRetention
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}

	g := &Guard{
		entries: make(map[string]*entry),
		config:  config,
		store:   store,
		logger:  logger.With().Str("component", "idempotency").Logger(),
		metrics: telemetry.GetMetrics(),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go g.cleanup()

	return g
}

// Do runs fn at most once per key within the retention window.
//
// A caller that finds the key in flight blocks until the first caller
// finishes or its own ctx ends.
func Do[T any](ctx context.Context, g *Guard, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	g.mu.Lock()
	existing, replacing := g.entries[key]
	if replacing && !g.expired(existing) {
		g.mu.Unlock()
		g.metrics.IdempotencyHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "memory")))
		return wait[T](ctx, existing)
	}
	e := &entry{done: make(chan struct{})}
	g.entries[key] = e
	g.mu.Unlock()
	if !replacing {
		g.metrics.IdempotencyEntries.Add(ctx, 1)
	}

	if v, ok := loadShared[T](ctx, g, key); ok {
		g.metrics.IdempotencyHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "store")))
		g.finish(e, v, nil)
		return v, nil
	}

	g.metrics.IdempotencyMissesTotal.Add(ctx, 1)

	panicked := true
	defer func() {
		if panicked {
			g.finish(e, zero, fmt.Errorf("idempotent operation panicked"))
		}
	}()

	v, err := fn(ctx)
	panicked = false

	if err == nil {
		saveShared(ctx, g, key, v)
	}
	g.finish(e, v, err)

	// An outcome cut short by the caller's own cancellation says nothing
	// about the operation, so a retry must run it again.
	if err != nil && ctx.Err() != nil {
		g.forget(ctx, key, e)
	}

	return v, err
}

func wait[T any](ctx context.Context, e *entry) (T, error) {
	var zero T

	select {
	case <-e.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	if e.err != nil {
		return zero, e.err
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, fmt.Errorf("idempotency: cached outcome has type %T", e.value)
	}
	return v, nil
}

func loadShared[T any](ctx context.Context, g *Guard, key string) (T, bool) {
	var v T
	if g.store == nil {
		return v, false
	}

	raw, found, err := g.store.Load(ctx, key)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Failed to load shared outcome")
		return v, false
	}
	if !found {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		g.logger.Warn().Err(err).Msg("Discarding undecodable shared outcome")
		return v, false
	}
	return v, true
}

func saveShared[T any](ctx context.Context, g *Guard, key string, v T) {
	if g.store == nil {
		return
	}

	raw, err := json.Marshal(v)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Failed to encode shared outcome")
		return
	}
	if err := g.store.Save(context.WithoutCancel(ctx), key, raw, g.config.Retention); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to save shared outcome")
	}
}

// finish publishes the outcome to waiters and starts its retention window
func (g *Guard) finish(e *entry, value any, err error) {
	retention := g.config.Retention
	if err != nil {
		retention = g.config.FailureRetention
	}

	g.mu.Lock()
	e.value = value
	e.err = err
	e.expiresAt = g.now().Add(retention)
	g.mu.Unlock()

	close(e.done)
}

// forget drops e if it is still the entry for key
func (g *Guard) forget(ctx context.Context, key string, e *entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entries[key] == e {
		delete(g.entries, key)
		g.metrics.IdempotencyEntries.Add(context.WithoutCancel(ctx), -1)
	}
}

// expired must be called with g.mu held
func (g *Guard) expired(e *entry) bool {
	select {
	case <-e.done:
		return g.now().After(e.expiresAt)
	default:
		return false
	}
}

// Len returns the number of retained or in-flight outcomes
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Evict removes expired outcomes
func (g *Guard) Evict() {
	g.mu.Lock()
	defer g.mu.Unlock()

	evicted := 0
	for key, e := range g.entries {
		if g.expired(e) {
			delete(g.entries, key)
			evicted++
		}
	}

	if evicted > 0 {
		g.metrics.IdempotencyEntries.Add(context.Background(), int64(-evicted))
		g.logger.Debug().Int("evicted", evicted).Msg("Evicted expired idempotency outcomes")
	}
}

// cleanup periodically evicts expired outcomes
func (g *Guard) cleanup() {
	ticker := time.NewTicker(g.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Evict()
		case <-g.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (g *Guard) Stop() {
	g.stopped.Do(func() {
		close(g.stopCh)
	})
}
