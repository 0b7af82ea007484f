package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/attuneai/attune/server/ai"
	pipeerr "github.com/attuneai/attune/server/internal/errors"
	"github.com/attuneai/attune/server/internal/observability"
	"github.com/attuneai/attune/server/retrieval"
	"github.com/attuneai/attune/server/synthesis"
	"github.com/attuneai/attune/store"
)

// Retriever is the knowledge lookup a cycle depends on.
type Retriever interface {
	Retrieve(ctx context.Context, opts *retrieval.Options) ([]*store.KnowledgeChunk, error)
}

// Generator is the provider gateway surface a cycle depends on.
type Generator interface {
	Generate(ctx context.Context, req *ai.CompletionRequest, groundingTexts []string) (*ai.GenerationResult, error)
	Routable() []string
}

// Manager admits connections, owns the session registry, and runs synthesis
// cycles against the pipeline collaborators.
type Manager struct {
	cfg       Config
	retriever Retriever
	generator Generator
	synth     *synthesis.Synthesizer
	metrics   *observability.Metrics
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager over the pipeline collaborators.
func NewManager(cfg Config, retriever Retriever, generator Generator, synth *synthesis.Synthesizer, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		retriever: retriever,
		generator: generator,
		synth:     synth,
		metrics:   observability.GlobalMetrics(),
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.OpenRate), cfg.OpenBurst),
		sessions:  make(map[string]*Session),
	}
}

// Open allocates a session over the connection and starts its tasks. Fails
// with ResourceExhausted when the session limit or admission rate is hit;
// the failure is reported to the caller, never silently dropped.
func (m *Manager) Open(conn Conn) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", pipeerr.ResourceExhausted("manager is shutting down")
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		m.metrics.SessionRejected()
		return "", pipeerr.ResourceExhausted("concurrent session limit reached")
	}
	if !m.limiter.Allow() {
		m.mu.Unlock()
		m.metrics.SessionRejected()
		return "", pipeerr.ResourceExhausted("session admission rate exceeded")
	}
	s := newSession(m, conn)
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.metrics.SessionOpened()
	go s.dispatcher.run()
	go s.run()

	s.log.Info("session opened")
	return s.id, nil
}

// Ingest validates and enqueues one inbound event for the session.
func (m *Manager) Ingest(sessionID string, ev *InboundEvent) error {
	s, ok := m.lookup(sessionID)
	if !ok {
		return pipeerr.SessionClosed(sessionID)
	}
	return s.ingest(ev)
}

// Close transitions the session to CLOSING, cancels in-flight work, flushes
// buffered outbound events, and releases the connection.
func (m *Manager) Close(sessionID, reason string) error {
	s, ok := m.lookup(sessionID)
	if !ok {
		return pipeerr.SessionClosed(sessionID)
	}
	s.closeWith(nil, reason)
	return nil
}

// SessionState reports the session's current lifecycle state.
func (m *Manager) SessionState(sessionID string) (State, bool) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return StateClosed, false
	}
	return s.State(), true
}

// ActiveSessions returns the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops admitting, closes every session, and waits for them to
// drain or for the context to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	active := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		active = append(active, s)
	}
	m.mu.Unlock()

	for _, s := range active {
		s.closeWith(nil, "server shutdown")
	}
	for _, s := range active {
		select {
		case <-s.finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) lookup(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		m.metrics.SessionClosed()
	}
}
