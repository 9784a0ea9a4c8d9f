package clients

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
	"github.com/cfdeploy/cfdeploy/pkg/platform/platformtest"
)

// countingFactory creates a new fake client per call and records targets.
type countingFactory struct {
	created atomic.Int32
	delay   time.Duration
	err     error

	mu      sync.Mutex
	targets []platform.Target
}

func (f *countingFactory) NewClient(_ context.Context, _ *oauth2.Token, target platform.Target) (platform.Client, error) {
	f.created.Add(1)
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return platformtest.NewClient(), nil
}

func newTestRegistry(t *testing.T, f Factory, cfg Config) (*Registry, *MemoryTokenStore) {
	t.Helper()
	tokens := NewMemoryTokenStore()
	tokens.Put("alice", &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)})
	return NewRegistry(f, tokens, cfg), tokens
}

func TestRegistry_SameKeySameClient(t *testing.T) {
	f := &countingFactory{}
	r, _ := newTestRegistry(t, f, DefaultConfig())
	ctx := context.Background()

	first, err := r.Get(ctx, NewOrgSpaceKey("alice", "org", "dev", "corr-1"))
	require.NoError(t, err)
	second, err := r.Get(ctx, NewOrgSpaceKey("alice", "org", "dev", "corr-2"))
	require.NoError(t, err)

	assert.Same(t, unwrap(t, first), unwrap(t, second), "correlation id must not split the cache")
	assert.EqualValues(t, 1, f.created.Load())
	assert.Equal(t, 1, r.Len())
}

func unwrap(t *testing.T, c platform.Client) platform.Client {
	t.Helper()
	cc, ok := c.(*platform.CorrelatedClient)
	require.True(t, ok, "expected a correlated client, got %T", c)
	return cc.Unwrap()
}

// taggingClient records the correlation tag each call arrives with.
type taggingClient struct {
	*platformtest.Client

	mu   sync.Mutex
	tags []string
}

func (c *taggingClient) GetApplication(ctx context.Context, name string) (*platform.Application, error) {
	c.mu.Lock()
	c.tags = append(c.tags, platform.CorrelationID(ctx))
	c.mu.Unlock()
	return c.Client.GetApplication(ctx, name)
}

type taggingFactory struct {
	created atomic.Int32
	client  *taggingClient
}

func (f *taggingFactory) NewClient(context.Context, *oauth2.Token, platform.Target) (platform.Client, error) {
	f.created.Add(1)
	return f.client, nil
}

func TestRegistry_CorrelationFollowsEachKey(t *testing.T) {
	fake := platformtest.NewClient()
	fake.AddApplication(platform.Application{Name: "web"})
	f := &taggingFactory{client: &taggingClient{Client: fake}}
	r, _ := newTestRegistry(t, f, DefaultConfig())
	ctx := context.Background()

	a, err := r.Get(ctx, NewOrgSpaceKey("alice", "org", "dev", "deploy-A"))
	require.NoError(t, err)
	b, err := r.Get(ctx, NewOrgSpaceKey("alice", "org", "dev", "deploy-B"))
	require.NoError(t, err)

	_, err = a.GetApplication(ctx, "web")
	require.NoError(t, err)
	_, err = b.GetApplication(ctx, "web")
	require.NoError(t, err)
	_, err = a.GetApplication(ctx, "web")
	require.NoError(t, err)

	assert.EqualValues(t, 1, f.created.Load())
	assert.Equal(t, []string{"deploy-A", "deploy-B", "deploy-A"}, f.client.tags)
}

func TestRegistry_KeyShapesDoNotCollide(t *testing.T) {
	f := &countingFactory{}
	r, _ := newTestRegistry(t, f, DefaultConfig())
	ctx := context.Background()

	byName, err := r.Get(ctx, NewOrgSpaceKey("alice", "", "", ""))
	require.NoError(t, err)
	byID, err := r.Get(ctx, NewSpaceKey("alice", "", ""))
	require.NoError(t, err)
	other, err := r.Get(ctx, NewOrgSpaceKey("alice", "org", "prod", ""))
	require.NoError(t, err)

	// An empty space id still addresses by name, so the first two coincide.
	assert.Same(t, byName, byID)
	assert.NotSame(t, byName, other)

	id, err := r.Get(ctx, NewSpaceKey("alice", "space-guid", ""))
	require.NoError(t, err)
	assert.NotSame(t, other, id)

	nameLikeID, err := r.Get(ctx, NewOrgSpaceKey("alice", "", "space-guid", ""))
	require.NoError(t, err)
	assert.NotSame(t, id, nameLikeID)
	assert.EqualValues(t, 4, f.created.Load())
}

func TestRegistry_ConcurrentMissesCreateOnce(t *testing.T) {
	f := &countingFactory{delay: 20 * time.Millisecond}
	r, _ := newTestRegistry(t, f, DefaultConfig())
	key := NewSpaceKey("alice", "space-guid", "")

	const callers = 32
	results := make([]platform.Client, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.Get(context.Background(), key)
			assert.NoError(t, err)
			results[i] = c
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.created.Load())
	for _, c := range results[1:] {
		assert.Same(t, results[0], c)
	}
}

func TestRegistry_ReleaseAndEviction(t *testing.T) {
	f := &countingFactory{}
	r, _ := newTestRegistry(t, f, Config{Size: 1})
	ctx := context.Background()
	dev := NewOrgSpaceKey("alice", "org", "dev", "")
	prod := NewOrgSpaceKey("alice", "org", "prod", "")

	first, err := r.Get(ctx, dev)
	require.NoError(t, err)

	r.Release(dev)
	assert.Equal(t, 0, r.Len())
	again, err := r.Get(ctx, dev)
	require.NoError(t, err)
	assert.NotSame(t, first, again)

	_, err = r.Get(ctx, prod)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len(), "size bound evicts the older entry")

	_, err = r.Get(ctx, dev)
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.created.Load())
}

func TestRegistry_ReleaseDuringCreation(t *testing.T) {
	f := &countingFactory{delay: 50 * time.Millisecond}
	r, _ := newTestRegistry(t, f, DefaultConfig())
	key := NewSpaceKey("alice", "space-guid", "")

	done := make(chan platform.Client)
	go func() {
		c, err := r.Get(context.Background(), key)
		assert.NoError(t, err)
		done <- c
	}()

	require.Eventually(t, func() bool { return f.created.Load() == 1 }, time.Second, time.Millisecond)
	r.Release(key)

	inFlight := <-done
	require.NotNil(t, inFlight, "the caller waiting on the creation still gets its client")
	assert.Equal(t, 0, r.Len(), "a client created across a release is not cached")

	fresh, err := r.Get(context.Background(), key)
	require.NoError(t, err)
	assert.NotSame(t, inFlight, fresh)
	assert.EqualValues(t, 2, f.created.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Tokens(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		token     *oauth2.Token
		wantErr   bool
		wantCode  string
		wantStale bool
	}{
		{
			name:     "missing",
			wantErr:  true,
			wantCode: engine.ErrCodeAuthentication,
		},
		{
			name:      "expired without refresh token",
			token:     &oauth2.Token{AccessToken: "old", Expiry: now.Add(-time.Minute)},
			wantErr:   true,
			wantCode:  engine.ErrCodeTokenExpired,
			wantStale: true,
		},
		{
			name:  "expired but refreshable",
			token: &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: now.Add(-time.Minute)},
		},
		{
			name:  "no expiry",
			token: &oauth2.Token{AccessToken: "forever"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := NewMemoryTokenStore()
			if tt.token != nil {
				tokens.Put("bob", tt.token)
			}
			f := &countingFactory{}
			r := NewRegistry(f, tokens, DefaultConfig(), WithClock(func() time.Time { return now }))

			_, err := r.Get(context.Background(), NewOrgSpaceKey("bob", "org", "dev", ""))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, engine.IsAuthentication(err))
			var ee *engine.EngineError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.wantCode, ee.Code)
			assert.Contains(t, err.Error(), `"bob"`)
			assert.EqualValues(t, 0, f.created.Load())

			if tt.wantStale {
				tok, _ := tokens.Token(context.Background(), "bob")
				assert.Nil(t, tok, "expired token should be removed")
			}
		})
	}
}

func TestRegistry_CreationErrors(t *testing.T) {
	cause := engine.NewTransientError("controller unavailable", nil)
	f := &countingFactory{err: cause}
	r, _ := newTestRegistry(t, f, DefaultConfig())
	ctx := context.Background()

	_, err := r.Get(ctx, NewOrgSpaceKey("alice", "org", "dev", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `could not create client for organization "org" and space "dev"`)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, engine.IsTransient(err), "class of the cause is kept")

	f.err = errors.New("boom")
	_, err = r.Get(ctx, NewSpaceKey("alice", "space-guid", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `could not create client for space id "space-guid"`)
	assert.True(t, engine.IsPermanent(err))
	assert.Equal(t, 0, r.Len(), "failed creations are not cached")
}

func TestRegistry_Untargeted(t *testing.T) {
	f := &countingFactory{}
	r, _ := newTestRegistry(t, f, DefaultConfig())

	c1, err := r.Untargeted(context.Background(), "alice")
	require.NoError(t, err)
	c2, err := r.Untargeted(context.Background(), "alice")
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
	assert.Equal(t, 0, r.Len())
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []platform.Target{{}, {}}, f.targets)

	_, err = r.Untargeted(context.Background(), "nobody")
	assert.True(t, engine.IsAuthentication(err))
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "alice|org|dev", NewOrgSpaceKey("alice", "org", "dev", "c").String())
	assert.Equal(t, "alice|guid", NewSpaceKey("alice", "guid", "c").String())
	assert.Equal(t, platform.Target{SpaceID: "guid"}, NewSpaceKey("alice", "guid", "c").Target())
}
