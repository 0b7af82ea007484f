// Package server assembles the coaching pipeline behind an HTTP server: the
// knowledge store, provider gateway, retriever, synthesizer and session
// manager, plus the websocket endpoint and operational routes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/attuneai/attune/internal/profile"
	"github.com/attuneai/attune/server/ai"
	"github.com/attuneai/attune/server/internal/observability"
	"github.com/attuneai/attune/server/retrieval"
	"github.com/attuneai/attune/server/router/ws"
	"github.com/attuneai/attune/server/session"
	"github.com/attuneai/attune/server/synthesis"
	"github.com/attuneai/attune/store"
)

// Server hosts the coaching pipeline.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	gateway    *ai.Gateway
	manager    *session.Manager
	logger     *slog.Logger
}

// NewServer builds the pipeline from the profile and the knowledge store.
func NewServer(prof *profile.Profile, st *store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	providers := make([]ai.Provider, 0, len(prof.Providers))
	for _, pc := range prof.Providers {
		p, err := ai.NewOpenAIProvider(ai.ProviderConfig{
			ID:      pc.ID,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider %q", pc.ID)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, errors.New("no generation providers configured")
	}

	gateway := ai.NewGateway(providers, ai.GatewayConfig{
		AttemptTimeout: prof.ProviderTimeout,
		Breaker: ai.BreakerConfig{
			FailureThreshold: prof.BreakerFailures,
			FailureWindow:    prof.BreakerWindow,
			Cooldown:         prof.BreakerCooldown,
		},
		Confidence: ai.DefaultConfidenceWeights(),
	}, logger)

	embedder := ai.NewOpenAIEmbedder(ai.EmbedderConfig{
		APIKey:  prof.EmbeddingAPIKey,
		BaseURL: prof.EmbeddingBaseURL,
		Model:   prof.EmbeddingModel,
	})

	retriever := retrieval.New(st, embedder, retrieval.Config{
		VectorWeight:  prof.VectorWeight,
		KeywordWeight: prof.KeywordWeight,
		MinRelevance:  prof.MinRelevance,
		Timeout:       prof.RetrievalTimeout,
		CacheSize:     prof.CacheSize,
		CacheTTL:      prof.CacheTTL,
	}, logger)

	synth := synthesis.New(synthesis.Config{
		ConfidenceWeight:   prof.ConfidenceWeight,
		GroundingWeight:    prof.GroundingWeight,
		NoveltyWeight:      prof.NoveltyWeight,
		DedupeThreshold:    prof.DedupeThreshold,
		MaxSuggestions:     prof.MaxSuggestions,
		FallbackConfidence: prof.FallbackConfidence,
	}, logger)

	manager := session.NewManager(session.Config{
		MaxSessions:   prof.MaxSessions,
		OpenRate:      prof.OpenRatePerSec,
		InboundQueue:  prof.InboundQueue,
		OutboundQueue: prof.OutboundQueue,
		IdleInterval:  prof.IdleInterval,
		IdleCeiling:   prof.IdleCeiling,
		CycleBudget:   prof.CycleBudget,
		WindowSize:    prof.ContextWindow,
		HistorySize:   prof.HistorySize,
		RetrieveLimit: prof.RetrieveLimit,
	}, retriever, gateway, synth, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		Profile:    prof,
		Store:      st,
		echoServer: e,
		gateway:    gateway,
		manager:    manager,
		logger:     logger,
	}

	e.GET("/healthz", s.healthz)
	e.GET("/metricz", s.metricz)
	e.GET("/api/v1/coach", ws.NewHandler(manager, logger).Coach)

	return s, nil
}

// Start serves until the context is cancelled, then shuts down gracefully:
// sessions drain first so buffered outbound events are flushed, then the
// HTTP server stops.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := s.echoServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("server started",
		slog.String("addr", addr),
		slog.String("mode", s.Profile.Mode),
		slog.String("version", s.Profile.Version))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown drains sessions and releases the pipeline's resources.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Warn("session drain incomplete", slog.String("error", err.Error()))
	}
	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown failed", slog.String("error", err.Error()))
	}
	s.gateway.Close()
	if err := s.Store.Close(); err != nil {
		s.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.Profile.Version,
		"sessions":  s.manager.ActiveSessions(),
		"providers": s.gateway.Health(),
	})
}

func (s *Server) metricz(c echo.Context) error {
	return c.JSON(http.StatusOK, observability.GlobalMetrics().GetSnapshot())
}
