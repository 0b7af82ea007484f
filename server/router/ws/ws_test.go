package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/attuneai/attune/server/ai"
	pipeerr "github.com/attuneai/attune/server/internal/errors"
	"github.com/attuneai/attune/server/retrieval"
	"github.com/attuneai/attune/server/session"
	"github.com/attuneai/attune/server/synthesis"
	"github.com/attuneai/attune/store"
)

type stubRetriever struct{}

func (stubRetriever) Retrieve(context.Context, *retrieval.Options) ([]*store.KnowledgeChunk, error) {
	return []*store.KnowledgeChunk{{
		ID:    "chunk-1",
		Text:  "Acknowledge the feeling before offering any solution.",
		Score: 0.61,
	}}, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, *ai.CompletionRequest, []string) (*ai.GenerationResult, error) {
	return &ai.GenerationResult{
		ProviderID: "stub",
		Text:       "Acknowledge how they feel before responding.",
		Confidence: 0.9,
	}, nil
}

func (stubGenerator) Routable() []string { return []string{"stub"} }

func newTestServer(t *testing.T, cfg session.Config) (*httptest.Server, string) {
	t.Helper()
	m := session.NewManager(cfg, stubRetriever{}, stubGenerator{},
		synthesis.New(synthesis.DefaultConfig(), nil), nil)
	e := echo.New()
	e.GET("/api/v1/coach", NewHandler(m, nil).Coach)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/coach"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestCoachRoundTrip(t *testing.T) {
	_, url := newTestServer(t, session.DefaultConfig())
	conn := dial(t, url)

	var ev session.OutboundEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, session.EventStatus, ev.Type)
	require.Equal(t, "ACTIVE", ev.State)

	require.NoError(t, conn.WriteJSON(&session.InboundEvent{Type: session.EventPing}))
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, session.EventPong, ev.Type)

	require.NoError(t, conn.WriteJSON(&session.InboundEvent{
		Type:     session.EventMessage,
		Sequence: 1,
		Sender:   "partner_a",
		Text:     "I feel ignored lately.",
	}))
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, session.EventSuggestions, ev.Type)
	require.Equal(t, int64(1), ev.Sequence)
	require.NotEmpty(t, ev.Items)
}

func TestCoachRejectsWhenFull(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.MaxSessions = 1
	_, url := newTestServer(t, cfg)

	first := dial(t, url)
	var ev session.OutboundEvent
	require.NoError(t, first.ReadJSON(&ev))
	require.Equal(t, "ACTIVE", ev.State)

	second := dial(t, url)
	require.NoError(t, second.ReadJSON(&ev))
	require.Equal(t, session.EventError, ev.Type)
	require.Equal(t, string(pipeerr.ErrCodeResourceExhausted), ev.Code)
}

func TestCoachOutOfSequenceGetsDiagnostic(t *testing.T) {
	_, url := newTestServer(t, session.DefaultConfig())
	conn := dial(t, url)

	var ev session.OutboundEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "ACTIVE", ev.State)

	require.NoError(t, conn.WriteJSON(&session.InboundEvent{
		Type:     session.EventMessage,
		Sequence: 7,
		Sender:   "partner_a",
		Text:     "jumping way ahead of the stream",
	}))

	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, session.EventError, ev.Type)
	require.Equal(t, string(pipeerr.ErrCodeProtocol), ev.Code)

	// The session survives the violation and serves the expected sequence.
	require.NoError(t, conn.WriteJSON(&session.InboundEvent{
		Type:     session.EventMessage,
		Sequence: 1,
		Sender:   "partner_a",
		Text:     "I feel ignored lately.",
	}))
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, session.EventSuggestions, ev.Type)
	require.Equal(t, int64(1), ev.Sequence)
}
