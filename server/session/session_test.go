package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/attuneai/attune/server/ai"
	pipeerr "github.com/attuneai/attune/server/internal/errors"
	"github.com/attuneai/attune/server/retrieval"
	"github.com/attuneai/attune/server/synthesis"
	"github.com/attuneai/attune/store"
)

type fakeConn struct {
	mu     sync.Mutex
	events []OutboundEvent
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	ev := v.(*OutboundEvent)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) snapshot() []OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OutboundEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) ofType(eventType string) []OutboundEvent {
	var out []OutboundEvent
	for _, ev := range c.snapshot() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type stubRetriever struct {
	fn func(ctx context.Context, opts *retrieval.Options) ([]*store.KnowledgeChunk, error)
}

func (r *stubRetriever) Retrieve(ctx context.Context, opts *retrieval.Options) ([]*store.KnowledgeChunk, error) {
	if r.fn == nil {
		return nil, nil
	}
	return r.fn(ctx, opts)
}

type stubGenerator struct {
	fn       func(ctx context.Context) (*ai.GenerationResult, error)
	routable []string
}

func (g *stubGenerator) Generate(ctx context.Context, req *ai.CompletionRequest, grounding []string) (*ai.GenerationResult, error) {
	if g.fn == nil {
		return &ai.GenerationResult{ProviderID: "stub", Text: "Acknowledge how they feel before responding.", Confidence: 0.9}, nil
	}
	return g.fn(ctx)
}

func (g *stubGenerator) Routable() []string {
	if g.routable == nil {
		return []string{"stub"}
	}
	return g.routable
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleInterval = 200 * time.Millisecond
	cfg.IdleCeiling = time.Minute
	cfg.CycleBudget = time.Second
	return cfg
}

func newTestManager(cfg Config, ret Retriever, gen Generator) *Manager {
	if ret == nil {
		ret = &stubRetriever{}
	}
	if gen == nil {
		gen = &stubGenerator{}
	}
	return NewManager(cfg, ret, gen, synthesis.New(synthesis.DefaultConfig(), nil), nil)
}

func message(id string, seq int64, text string) *InboundEvent {
	return &InboundEvent{Type: EventMessage, SessionID: id, Sequence: seq, Sender: "partner_a", Text: text}
}

func TestSuggestionsFlow(t *testing.T) {
	chunk := &store.KnowledgeChunk{
		ID:    "chunk-1",
		Text:  "Acknowledge the feeling before offering any solution.",
		Score: 0.61,
	}
	m := newTestManager(fastConfig(), &stubRetriever{
		fn: func(context.Context, *retrieval.Options) ([]*store.KnowledgeChunk, error) {
			return []*store.KnowledgeChunk{chunk}, nil
		},
	}, nil)

	conn := &fakeConn{}
	id, err := m.Open(conn)
	require.NoError(t, err)

	require.NoError(t, m.Ingest(id, message(id, 1, "I feel ignored lately.")))

	require.Eventually(t, func() bool {
		return len(conn.ofType(EventSuggestions)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sugg := conn.ofType(EventSuggestions)[0]
	require.Equal(t, int64(1), sugg.Sequence)
	require.NotEmpty(t, sugg.Items)
	require.LessOrEqual(t, len(sugg.Items), 5)
	require.Contains(t, sugg.Items[0].Provenance.ChunkIDs, "chunk-1")

	// The connection saw ACTIVE before any suggestions.
	events := conn.snapshot()
	require.Equal(t, EventStatus, events[0].Type)
	require.Equal(t, StateActive.String(), events[0].State)

	require.NoError(t, m.Close(id, "done"))
	require.Eventually(t, conn.isClosed, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return m.ActiveSessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSupersessionNeverEmitsStaleAnswer(t *testing.T) {
	gen := &stubGenerator{fn: func(ctx context.Context) (*ai.GenerationResult, error) {
		select {
		case <-time.After(80 * time.Millisecond):
			return &ai.GenerationResult{ProviderID: "stub", Text: "Try naming the feeling out loud together.", Confidence: 0.8}, nil
		case <-ctx.Done():
			return nil, pipeerr.Cancelled(ctx.Err())
		}
	}}
	m := newTestManager(fastConfig(), nil, gen)

	conn := &fakeConn{}
	id, err := m.Open(conn)
	require.NoError(t, err)

	require.NoError(t, m.Ingest(id, message(id, 1, "We never talk anymore.")))
	require.NoError(t, m.Ingest(id, message(id, 2, "And tonight you were on your phone all dinner.")))

	require.Eventually(t, func() bool {
		return len(conn.ofType(EventSuggestions)) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	for _, ev := range conn.ofType(EventSuggestions) {
		require.Equal(t, int64(2), ev.Sequence, "superseded cycle must never emit")
	}
}

func TestQueuedStaleResultNeverEmitted(t *testing.T) {
	cfg := fastConfig()
	cfg.IdleInterval = 5 * time.Second
	gen := &stubGenerator{fn: func(ctx context.Context) (*ai.GenerationResult, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return &ai.GenerationResult{ProviderID: "stub", Text: "Ask what made tonight feel different.", Confidence: 0.8}, nil
		case <-ctx.Done():
			return nil, pipeerr.Cancelled(ctx.Err())
		}
	}}
	m := newTestManager(cfg, nil, gen)

	conn := &fakeConn{}
	s := newSession(m, conn)

	// The first message is admitted and its finished result sits queued
	// before the processing task has woken up.
	require.NoError(t, s.ingest(message(s.id, 1, "We never talk anymore.")))
	staleItems := []synthesis.Suggestion{{ID: "stale", Text: "Bring up the silence directly.", Confidence: 0.9}}
	s.results <- cycleResult{
		epoch: s.epoch.Load(),
		event: suggestionsEvent(1, staleItems),
		items: staleItems,
	}

	// The second message is admitted before the task processes anything,
	// superseding the queued result.
	require.NoError(t, s.ingest(message(s.id, 2, "And tonight you were on your phone all dinner.")))

	go s.dispatcher.run()
	go s.run()
	defer s.closeWith(nil, "test done")

	require.Eventually(t, func() bool {
		events := conn.ofType(EventSuggestions)
		return len(events) >= 1 && events[len(events)-1].Sequence == 2
	}, 2*time.Second, 10*time.Millisecond)

	for _, ev := range conn.ofType(EventSuggestions) {
		require.Equal(t, int64(2), ev.Sequence, "result for an older message must never reach the wire")
	}
}

func TestAllProvidersUnavailableWithinBudget(t *testing.T) {
	cfg := fastConfig()
	cfg.CycleBudget = 150 * time.Millisecond
	cfg.IdleInterval = 5 * time.Second
	gen := &stubGenerator{fn: func(ctx context.Context) (*ai.GenerationResult, error) {
		<-ctx.Done()
		return nil, pipeerr.Cancelled(ctx.Err())
	}}
	m := newTestManager(cfg, nil, gen)

	conn := &fakeConn{}
	id, err := m.Open(conn)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, m.Ingest(id, message(id, 1, "Nobody is listening to me.")))

	require.Eventually(t, func() bool {
		for _, ev := range conn.ofType(EventStatus) {
			if ev.State == StateNoSuggestions {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.Less(t, time.Since(start), time.Second)

	var status OutboundEvent
	for _, ev := range conn.ofType(EventStatus) {
		if ev.State == StateNoSuggestions {
			status = ev
		}
	}
	require.Equal(t, "AllProvidersUnavailable", status.Reason)

	// The session rides out the outage.
	st, ok := m.SessionState(id)
	require.True(t, ok)
	require.Equal(t, StateActive, st)
}

func TestRetrievalOutageDegradesToUngrounded(t *testing.T) {
	m := newTestManager(fastConfig(), &stubRetriever{
		fn: func(context.Context, *retrieval.Options) ([]*store.KnowledgeChunk, error) {
			return nil, pipeerr.RetrievalUnavailable(context.DeadlineExceeded)
		},
	}, nil)

	conn := &fakeConn{}
	id, err := m.Open(conn)
	require.NoError(t, err)
	require.NoError(t, m.Ingest(id, message(id, 1, "I feel shut out.")))

	require.Eventually(t, func() bool {
		return len(conn.ofType(EventSuggestions)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sugg := conn.ofType(EventSuggestions)[0]
	require.NotEmpty(t, sugg.Items)
	require.Empty(t, sugg.Items[0].Provenance.ChunkIDs)
}

func TestOutOfSequenceIsSessionLocal(t *testing.T) {
	m := newTestManager(fastConfig(), nil, nil)

	conn := &fakeConn{}
	id, err := m.Open(conn)
	require.NoError(t, err)

	require.NoError(t, m.Ingest(id, message(id, 1, "hello there partner")))
	err = m.Ingest(id, message(id, 5, "skipping ahead now"))
	require.True(t, pipeerr.IsCode(err, pipeerr.ErrCodeProtocol))

	// The violation is reported on the wire but the session rides on.
	require.Eventually(t, func() bool {
		return len(conn.ofType(EventError)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, string(pipeerr.ErrCodeProtocol), conn.ofType(EventError)[0].Code)

	st, ok := m.SessionState(id)
	require.True(t, ok)
	require.NotEqual(t, StateClosing, st)
	require.NotEqual(t, StateClosed, st)
	require.False(t, conn.isClosed())

	// The next expected sequence is still accepted.
	require.NoError(t, m.Ingest(id, message(id, 2, "back in order now")))
	require.Eventually(t, func() bool {
		events := conn.ofType(EventSuggestions)
		return len(events) >= 1 && events[len(events)-1].Sequence == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPingPong(t *testing.T) {
	m := newTestManager(fastConfig(), nil, nil)

	conn := &fakeConn{}
	id, err := m.Open(conn)
	require.NoError(t, err)

	require.NoError(t, m.Ingest(id, &InboundEvent{Type: EventPing}))
	require.Eventually(t, func() bool {
		return len(conn.ofType(EventPong)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIdleAndCeiling(t *testing.T) {
	cfg := fastConfig()
	cfg.IdleInterval = 50 * time.Millisecond
	cfg.IdleCeiling = 200 * time.Millisecond
	m := newTestManager(cfg, nil, nil)

	conn := &fakeConn{}
	id, err := m.Open(conn)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, ev := range conn.ofType(EventStatus) {
			if ev.State == StateIdle.String() {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, conn.isClosed, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return m.ActiveSessions() == 0 }, 2*time.Second, 10*time.Millisecond)
	_ = id
}

func TestAdmissionLimits(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxSessions = 1
	m := newTestManager(cfg, nil, nil)

	_, err := m.Open(&fakeConn{})
	require.NoError(t, err)

	_, err = m.Open(&fakeConn{})
	require.True(t, pipeerr.IsCode(err, pipeerr.ErrCodeResourceExhausted))
}

func TestAdmissionRateLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.OpenRate = 0.001
	cfg.OpenBurst = 1
	m := newTestManager(cfg, nil, nil)

	_, err := m.Open(&fakeConn{})
	require.NoError(t, err)

	_, err = m.Open(&fakeConn{})
	require.True(t, pipeerr.IsCode(err, pipeerr.ErrCodeResourceExhausted))
}

func TestBackpressureDropsOldest(t *testing.T) {
	cfg := fastConfig()
	cfg.InboundQueue = 2
	m := newTestManager(cfg, nil, nil)

	conn := &fakeConn{}
	s := newSession(m, conn)

	// The processing task is not started yet, so the queue fills up.
	require.NoError(t, s.ingest(message(s.id, 1, "first message in the queue")))
	require.NoError(t, s.ingest(message(s.id, 2, "second message in the queue")))
	require.NoError(t, s.ingest(message(s.id, 3, "third message forces a drop")))

	require.Equal(t, int64(1), s.drops.Load())
	require.Equal(t, int64(2), (<-s.inbound).Sequence)
	require.Equal(t, int64(3), (<-s.inbound).Sequence)
}

func TestBackpressureStatusSurfaced(t *testing.T) {
	cfg := fastConfig()
	cfg.InboundQueue = 2
	m := newTestManager(cfg, nil, nil)

	conn := &fakeConn{}
	s := newSession(m, conn)
	require.NoError(t, s.ingest(message(s.id, 1, "first message in the queue")))
	require.NoError(t, s.ingest(message(s.id, 2, "second message in the queue")))
	require.NoError(t, s.ingest(message(s.id, 3, "third message forces a drop")))

	go s.dispatcher.run()
	go s.run()
	defer s.closeWith(nil, "test done")

	require.Eventually(t, func() bool {
		for _, ev := range conn.ofType(EventStatus) {
			if ev.State == string(pipeerr.ErrCodeBackpressure) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrderingAcrossMessages(t *testing.T) {
	m := newTestManager(fastConfig(), nil, nil)

	conn := &fakeConn{}
	id, err := m.Open(conn)
	require.NoError(t, err)

	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, m.Ingest(id, message(id, seq, "message under test number five words")))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		events := conn.ofType(EventSuggestions)
		return len(events) >= 1 && events[len(events)-1].Sequence == 5
	}, 3*time.Second, 10*time.Millisecond)

	var last int64
	for _, ev := range conn.ofType(EventSuggestions) {
		require.GreaterOrEqual(t, ev.Sequence, last)
		require.Positive(t, ev.Sequence)
		require.LessOrEqual(t, ev.Sequence, int64(5))
		last = ev.Sequence
	}
}

func TestShutdownDrainsSessions(t *testing.T) {
	m := newTestManager(fastConfig(), nil, nil)

	conns := []*fakeConn{{}, {}}
	for _, c := range conns {
		_, err := m.Open(c)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	require.Zero(t, m.ActiveSessions())
	for _, c := range conns {
		require.True(t, c.isClosed())
	}

	_, err := m.Open(&fakeConn{})
	require.True(t, pipeerr.IsCode(err, pipeerr.ErrCodeResourceExhausted))
}
