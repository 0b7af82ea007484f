package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerr "github.com/attuneai/attune/server/internal/errors"
)

// stubProvider is a scriptable provider for gateway tests.
type stubProvider struct {
	id       string
	complete func(ctx context.Context) (*GenerationResult, error)
}

func (s *stubProvider) ID() string { return s.id }

func (s *stubProvider) Complete(ctx context.Context, _ *CompletionRequest) (*GenerationResult, error) {
	return s.complete(ctx)
}

func succeeding(id, text string) *stubProvider {
	return &stubProvider{id: id, complete: func(context.Context) (*GenerationResult, error) {
		return &GenerationResult{ProviderID: id, Text: text, Latency: 50 * time.Millisecond}, nil
	}}
}

func failing(id string) *stubProvider {
	return &stubProvider{id: id, complete: func(context.Context) (*GenerationResult, error) {
		return nil, errors.New("backend error")
	}}
}

func hanging(id string) *stubProvider {
	return &stubProvider{id: id, complete: func(ctx context.Context) (*GenerationResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func testGatewayConfig() GatewayConfig {
	cfg := DefaultGatewayConfig()
	cfg.AttemptTimeout = 50 * time.Millisecond
	return cfg
}

func TestGatewayUsesHighestPriorityProvider(t *testing.T) {
	g := NewGateway([]Provider{succeeding("primary", "a"), succeeding("secondary", "b")}, testGatewayConfig(), nil)
	defer g.Close()

	result, err := g.Generate(context.Background(), &CompletionRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.ProviderID)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestGatewayFallsThroughOnFailure(t *testing.T) {
	g := NewGateway([]Provider{failing("primary"), succeeding("secondary", "b")}, testGatewayConfig(), nil)
	defer g.Close()

	result, err := g.Generate(context.Background(), &CompletionRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "secondary", result.ProviderID)
}

func TestGatewayFallsThroughOnTimeout(t *testing.T) {
	g := NewGateway([]Provider{hanging("primary"), succeeding("secondary", "b")}, testGatewayConfig(), nil)
	defer g.Close()

	start := time.Now()
	result, err := g.Generate(context.Background(), &CompletionRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "secondary", result.ProviderID)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGatewayAllProvidersUnavailable(t *testing.T) {
	g := NewGateway([]Provider{failing("primary"), failing("secondary")}, testGatewayConfig(), nil)
	defer g.Close()

	_, err := g.Generate(context.Background(), &CompletionRequest{}, nil)
	require.Error(t, err)
	assert.True(t, pipeerr.IsCode(err, pipeerr.ErrCodeAllProvidersUnavailable))
}

func TestGatewaySkipsOpenCircuit(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.Breaker = BreakerConfig{FailureThreshold: 2, FailureWindow: time.Minute, Cooldown: time.Minute}

	primary := failing("primary")
	g := NewGateway([]Provider{primary, succeeding("secondary", "b")}, cfg, nil)
	defer g.Close()

	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background(), &CompletionRequest{}, nil)
		require.NoError(t, err)
	}

	// Health updates flow through the tracker goroutine; wait for the
	// breaker to observe both failures.
	require.Eventually(t, func() bool {
		return g.Health()[0].Circuit == CircuitOpen
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"secondary"}, g.Routable())

	// With the primary open, only the secondary is attempted.
	calls := 0
	primary.complete = func(context.Context) (*GenerationResult, error) {
		calls++
		return nil, errors.New("backend error")
	}
	result, err := g.Generate(context.Background(), &CompletionRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "secondary", result.ProviderID)
	assert.Zero(t, calls)
}

func TestGatewayCancelledParentContext(t *testing.T) {
	g := NewGateway([]Provider{hanging("primary"), succeeding("secondary", "b")}, testGatewayConfig(), nil)
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, &CompletionRequest{}, nil)
	require.Error(t, err)
	assert.True(t, pipeerr.IsCode(err, pipeerr.ErrCodeCancelled))
}

func TestGatewayCancelledCycleIsNotProviderFailure(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.AttemptTimeout = time.Second
	cfg.Breaker = BreakerConfig{FailureThreshold: 3, FailureWindow: time.Minute, Cooldown: time.Minute}

	g := NewGateway([]Provider{hanging("primary")}, cfg, nil)
	defer g.Close()

	// A healthy-but-slow provider interrupted over and over by cancelled
	// cycles must not trip its breaker.
	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := g.Generate(ctx, &CompletionRequest{}, nil)
		cancel()
		require.Error(t, err)
		assert.True(t, pipeerr.IsCode(err, pipeerr.ErrCodeCancelled))
	}

	// Give the tracker goroutine time to apply any stray updates.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, CircuitClosed, g.Health()[0].Circuit)
	assert.Equal(t, []string{"primary"}, g.Routable())
}

func TestGatewayHealthSnapshot(t *testing.T) {
	g := NewGateway([]Provider{succeeding("primary", "a")}, testGatewayConfig(), nil)
	defer g.Close()

	_, err := g.Generate(context.Background(), &CompletionRequest{}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return g.Health()[0].Attempts == 1
	}, time.Second, 5*time.Millisecond)

	h := g.Health()[0]
	assert.Equal(t, "primary", h.ProviderID)
	assert.Equal(t, CircuitClosed, h.Circuit)
	assert.Greater(t, h.SuccessRate, 0.9)
	assert.Greater(t, h.AvgLatency, time.Duration(0))
}
