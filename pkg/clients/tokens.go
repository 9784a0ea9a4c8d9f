package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// TokenStore yields the current access token of an identity.
type TokenStore interface {
	// Token returns the stored token, or nil when the identity has none.
	Token(ctx context.Context, identity string) (*oauth2.Token, error)

	// Invalidate removes token if it is still the one stored for identity.
	Invalidate(ctx context.Context, identity string, token *oauth2.Token) error
}

// expired reports whether the token's expiry has passed. A token without an
// expiry never expires.
func expired(tok *oauth2.Token, now time.Time) bool {
	return !tok.Expiry.IsZero() && !now.Before(tok.Expiry)
}

// refreshable reports whether the token can be renewed without the user.
func refreshable(tok *oauth2.Token) bool {
	return tok.RefreshToken != ""
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

// NewMemoryTokenStore creates an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*oauth2.Token)}
}

// Put stores token for identity.
func (s *MemoryTokenStore) Put(identity string, token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[identity] = token
}

// Token implements TokenStore.
func (s *MemoryTokenStore) Token(_ context.Context, identity string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[identity], nil
}

// Invalidate implements TokenStore.
func (s *MemoryTokenStore) Invalidate(_ context.Context, identity string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tokens[identity]; ok && cur.AccessToken == token.AccessToken {
		delete(s.tokens, identity)
	}
	return nil
}

// RedisTokenStore shares tokens between hosts through Redis. Each identity
// maps to one key holding the JSON encoded oauth2.Token.
type RedisTokenStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// RedisOptions configures a RedisTokenStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisTokenStore connects to Redis and verifies the connection.
func NewRedisTokenStore(ctx context.Context, opts RedisOptions) (*RedisTokenStore, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "cfdeploy:token:"
	}
	return &RedisTokenStore{client: client, prefix: prefix, timeout: time.Second}, nil
}

// Token implements TokenStore.
func (s *RedisTokenStore) Token(ctx context.Context, identity string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.prefix+identity).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token for %s: %w", identity, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token for %s: %w", identity, err)
	}
	return &tok, nil
}

// Put stores token for identity. Tokens without a refresh token expire from
// Redis together with the access token.
func (s *RedisTokenStore) Put(ctx context.Context, identity string, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token for %s: %w", identity, err)
	}
	var ttl time.Duration
	if !refreshable(token) && !token.Expiry.IsZero() {
		ttl = time.Until(token.Expiry)
		if ttl <= 0 {
			return nil
		}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, s.prefix+identity, raw, ttl).Err()
}

// Invalidate implements TokenStore. The compare and delete run in one
// transaction so a token stored concurrently by another host survives.
func (s *RedisTokenStore) Invalidate(ctx context.Context, identity string, token *oauth2.Token) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.prefix + identity
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var cur oauth2.Token
		if err := json.Unmarshal(raw, &cur); err != nil || cur.AccessToken != token.AccessToken {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Close releases the Redis connection.
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}
