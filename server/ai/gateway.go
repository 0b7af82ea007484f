package ai

import (
	"context"
	"log/slog"
	"time"

	pipeerr "github.com/attuneai/attune/server/internal/errors"
	"github.com/attuneai/attune/server/internal/observability"
)

// GatewayConfig holds the gateway's centralized retry, timeout and scoring
// policy. All provider fallback behavior is configured here, once.
type GatewayConfig struct {
	// AttemptTimeout bounds each individual provider attempt.
	AttemptTimeout time.Duration
	// Breaker is the per-provider circuit breaker policy.
	Breaker BreakerConfig
	// Confidence weights; see ScoreConfidence.
	Confidence ConfidenceWeights
}

// DefaultGatewayConfig returns the default gateway policy.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AttemptTimeout: 4 * time.Second,
		Breaker:        DefaultBreakerConfig(),
		Confidence:     DefaultConfidenceWeights(),
	}
}

// Gateway routes generation requests across an ordered provider list,
// skipping providers whose breaker is open and falling through on failure.
// The provider list is immutable after construction; per-provider health is
// the only mutable state, owned by each provider's health tracker.
type Gateway struct {
	providers []Provider
	trackers  map[string]*healthTracker
	cfg       GatewayConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewGateway creates a gateway over the given providers, in priority order.
func NewGateway(providers []Provider, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 4 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	trackers := make(map[string]*healthTracker, len(providers))
	for _, p := range providers {
		trackers[p.ID()] = newHealthTracker(p.ID(), cfg.Breaker)
	}
	return &Gateway{
		providers: providers,
		trackers:  trackers,
		cfg:       cfg,
		logger:    logger,
		metrics:   observability.GlobalMetrics(),
	}
}

// Generate attempts providers in priority order until one succeeds.
// groundingTexts are the retrieved chunk texts used for the agreement term of
// the confidence score; pass nil in ungrounded mode.
func (g *Gateway) Generate(ctx context.Context, req *CompletionRequest, groundingTexts []string) (*GenerationResult, error) {
	var lastErr error

	for _, p := range g.providers {
		tracker := g.trackers[p.ID()]

		if err := tracker.allow(); err != nil {
			g.logger.Debug("skipping provider with open circuit",
				observability.LogFieldProviderID, p.ID())
			continue
		}

		if ctx.Err() != nil {
			return nil, pipeerr.Cancelled(ctx.Err())
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		result, err := p.Complete(attemptCtx, req)
		cancel()

		if err != nil {
			// A dead parent context means the cycle was superseded or ran
			// out of budget. That is not evidence against the provider, so
			// no failure is recorded and no further provider is tried.
			if ctx.Err() != nil {
				return nil, pipeerr.Cancelled(ctx.Err())
			}

			tracker.record(outcome{success: false})
			g.metrics.ProviderAttempt(p.ID(), true)
			lastErr = err
			g.logger.Warn("provider attempt failed",
				slog.String(observability.LogFieldProviderID, p.ID()),
				slog.String("error", err.Error()))
			continue
		}

		tracker.record(outcome{success: true, latency: result.Latency})
		g.metrics.ProviderAttempt(p.ID(), false)

		result.Confidence = ScoreConfidence(result, tracker.baselineLatency(), groundingTexts, g.cfg.Confidence)
		g.logger.Debug("provider attempt succeeded",
			slog.String(observability.LogFieldProviderID, p.ID()),
			slog.Int64(observability.LogFieldDuration, result.Latency.Milliseconds()),
			slog.Float64("confidence", result.Confidence))
		return result, nil
	}

	err := pipeerr.AllProvidersUnavailable("all configured providers failed or are open")
	if lastErr != nil {
		err.Cause = lastErr
	}
	return nil, err
}

// Routable returns the ids of providers whose circuit currently admits
// requests, in priority order. Used as the cheap same-cycle warm-up check.
func (g *Gateway) Routable() []string {
	ids := make([]string, 0, len(g.providers))
	for _, p := range g.providers {
		if g.trackers[p.ID()].breaker.State() != CircuitOpen {
			ids = append(ids, p.ID())
		}
	}
	return ids
}

// Health returns a snapshot per provider, in priority order.
func (g *Gateway) Health() []ProviderHealth {
	out := make([]ProviderHealth, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, g.trackers[p.ID()].health())
	}
	return out
}

// Close stops the health tracker goroutines.
func (g *Gateway) Close() {
	for _, t := range g.trackers {
		t.close()
	}
}
