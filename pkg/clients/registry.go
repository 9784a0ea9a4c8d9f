// Package clients caches authenticated platform clients per identity and
// target so that concurrent deployments share connections.
package clients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// Factory creates platform clients from a token and a target.
type Factory interface {
	NewClient(ctx context.Context, token *oauth2.Token, target platform.Target) (platform.Client, error)
}

// Config bounds the registry's cache.
type Config struct {
	// Size is the maximum number of cached clients.
	Size int

	// TTL drops a cached client this long after it was created. Zero keeps
	// clients until they are evicted by size or released.
	TTL time.Duration
}

// DefaultConfig returns the default cache bounds.
func DefaultConfig() Config {
	return Config{Size: 256, TTL: 30 * time.Minute}
}

// Registry hands out platform clients, creating at most one per key at a
// time. Entries may be evicted at any moment; an evicted entry is recreated on
// the next Get.
type Registry struct {
	factory Factory
	tokens  TokenStore
	cache   *expirable.LRU[cacheKey, platform.Client]
	group   singleflight.Group
	clock   func() time.Time

	// gens counts releases per key. A creation that overlaps a release does
	// not cache its client.
	mu   sync.Mutex
	gens map[cacheKey]uint64

	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock replaces the clock used for token expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// NewRegistry creates a registry.
func NewRegistry(factory Factory, tokens TokenStore, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		factory: factory,
		tokens:  tokens,
		clock:   time.Now,
		gens:    make(map[cacheKey]uint64),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	r.cache = expirable.NewLRU[cacheKey, platform.Client](cfg.Size, func(cacheKey, platform.Client) {
		r.metrics.RecordClientCache(telemetry.CacheEvict)
	}, cfg.TTL)
	return r
}

// Get returns the client for key, creating it on a miss. Concurrent misses
// for the same key share one creation. The returned client tags its calls
// with the key's correlation ID; the shared client underneath does not.
func (r *Registry) Get(ctx context.Context, key Key) (platform.Client, error) {
	ck := key.cacheKey()
	if c, ok := r.cache.Get(ck); ok {
		r.metrics.RecordClientCache(telemetry.CacheHit)
		return platform.Correlate(c, key.CorrelationID), nil
	}
	r.metrics.RecordClientCache(telemetry.CacheMiss)

	v, err, _ := r.group.Do(ck.flight(), func() (any, error) {
		// A caller that missed just before another finished creating finds it here.
		if c, ok := r.cache.Get(ck); ok {
			return c, nil
		}
		gen := r.generation(ck)
		// Shared by every waiter, so one caller's cancellation must not abort it.
		c, err := r.create(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		if r.addIfCurrent(ck, gen, c) {
			r.metrics.RecordClientCache(telemetry.CacheCreate)
			r.logger.Debug().Str("key", key.String()).Msg("Created platform client")
		} else {
			r.logger.Debug().Str("key", key.String()).Msg("Client released during creation; not cached")
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return platform.Correlate(v.(platform.Client), key.CorrelationID), nil
}

func (r *Registry) generation(ck cacheKey) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[ck]
}

// addIfCurrent caches c unless ck was released since gen was read.
func (r *Registry) addIfCurrent(ck cacheKey, gen uint64, c platform.Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[ck] != gen {
		return false
	}
	r.cache.Add(ck, c)
	return true
}

// Untargeted creates a client that is not bound to a space. It is not cached.
func (r *Registry) Untargeted(ctx context.Context, identity string) (platform.Client, error) {
	tok, err := r.validToken(ctx, identity)
	if err != nil {
		return nil, err
	}
	c, err := r.factory.NewClient(ctx, tok, platform.Target{})
	if err != nil {
		return nil, engine.Wrap(err, fmt.Sprintf("could not create client for user %q", identity)).
			WithCode(engine.ErrCodeClientCreation)
	}
	return c, nil
}

// Release drops the cached client for key. A later Get creates a new one,
// including when a creation for key is still in flight.
func (r *Registry) Release(key Key) {
	ck := key.cacheKey()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[ck]++
	r.cache.Remove(ck)
}

// Len returns the number of cached clients.
func (r *Registry) Len() int {
	return r.cache.Len()
}

func (r *Registry) create(ctx context.Context, key Key) (platform.Client, error) {
	tok, err := r.validToken(ctx, key.Identity)
	if err != nil {
		return nil, err
	}
	c, err := r.factory.NewClient(ctx, tok, key.Target())
	if err != nil {
		return nil, engine.Wrap(err, creationMessage(key)).WithCode(engine.ErrCodeClientCreation)
	}
	return c, nil
}

func creationMessage(key Key) string {
	if key.SpaceID != "" {
		return fmt.Sprintf("could not create client for space id %q", key.SpaceID)
	}
	return fmt.Sprintf("could not create client for organization %q and space %q", key.Org, key.Space)
}

// validToken returns a usable token for identity. An expired token without a
// refresh token is removed from the store.
func (r *Registry) validToken(ctx context.Context, identity string) (*oauth2.Token, error) {
	tok, err := r.tokens.Token(ctx, identity)
	if err != nil {
		return nil, engine.NewAuthenticationError(
			fmt.Sprintf("could not read token for user %q", identity), err)
	}
	if tok == nil {
		return nil, engine.NewAuthenticationError(
			fmt.Sprintf("no valid token found for user %q", identity), nil)
	}
	if expired(tok, r.clock()) && !refreshable(tok) {
		if err := r.tokens.Invalidate(ctx, identity, tok); err != nil {
			r.logger.Warn().Err(err).Str("identity", identity).Msg("Failed to remove expired token")
		}
		return nil, engine.NewAuthenticationError(
			fmt.Sprintf("token for user %q has expired", identity), nil).
			WithCode(engine.ErrCodeTokenExpired)
	}
	return tok, nil
}
