package session

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/attuneai/attune/server/convo"
	"github.com/attuneai/attune/server/internal/observability"
	"github.com/attuneai/attune/server/retrieval"
	"github.com/attuneai/attune/server/synthesis"
	"github.com/attuneai/attune/store"
)

// Wire-level reasons attached to NoSuggestions statuses.
const (
	reasonAllProvidersUnavailable = "AllProvidersUnavailable"
	reasonRetrievalUnavailable    = "RetrievalUnavailable"
)

// runCycle executes one synthesis cycle: retrieval and provider warm-up run
// concurrently, then generation, then ranking. The result goes back to the
// session task, which drops it if a newer message superseded this epoch. The
// ctx carries the cycle budget; its deadline expiring degrades the cycle, it
// does not kill the session.
func (m *Manager) runCycle(ctx context.Context, cancel context.CancelFunc, s *Session, epoch uint64, snap convo.Snapshot, history *synthesis.History, sequence int64) {
	defer cancel()
	start := time.Now()
	m.metrics.CycleStarted()
	cycleID := observability.NewCycleID()

	latest := snap.Latest()

	var (
		chunks   []*store.KnowledgeChunk
		retErr   error
		routable []string
	)
	var g errgroup.Group
	g.Go(func() error {
		chunks, retErr = m.retriever.Retrieve(ctx, &retrieval.Options{
			Query: latest.Text,
			Limit: m.cfg.RetrieveLimit,
		})
		return nil
	})
	g.Go(func() error {
		routable = m.generator.Routable()
		return nil
	})
	_ = g.Wait()

	if retErr != nil {
		m.metrics.CycleDegraded()
		s.log.Warn("retrieval unavailable, proceeding ungrounded",
			slog.String(observability.LogFieldCycleID, cycleID),
			slog.String("error", retErr.Error()))
		chunks = nil
	}
	if len(routable) == 0 {
		s.log.Warn("no routable providers at cycle start",
			slog.String(observability.LogFieldCycleID, cycleID))
	}

	result, genErr := m.generator.Generate(ctx, buildRequest(snap, chunks), chunkTexts(chunks))
	if genErr != nil {
		if ctx.Err() == context.Canceled {
			// Superseded by a newer message, or the session is closing.
			// Either way this cycle must never emit.
			return
		}
		s.log.Warn("generation failed, falling back to grounded suggestions",
			slog.String(observability.LogFieldCycleID, cycleID),
			slog.String("error", genErr.Error()))
	}

	items := m.synth.Synthesize(snap, chunks, result, history)

	var event *OutboundEvent
	if len(items) == 0 {
		reason := ""
		switch {
		case genErr != nil:
			reason = reasonAllProvidersUnavailable
		case retErr != nil:
			reason = reasonRetrievalUnavailable
		}
		event = statusEvent(StateNoSuggestions, reason)
	} else {
		event = suggestionsEvent(sequence, items)
	}

	m.metrics.RecordCycleDuration(time.Since(start))
	s.log.Debug("cycle finished",
		slog.String(observability.LogFieldCycleID, cycleID),
		slog.Int64(observability.LogFieldSequence, sequence),
		slog.String(observability.LogFieldEventType, event.Type),
		slog.Int64(observability.LogFieldDuration, time.Since(start).Milliseconds()))

	select {
	case s.results <- cycleResult{epoch: epoch, event: event, items: items}:
	case <-s.ctx.Done():
	}
}

func chunkTexts(chunks []*store.KnowledgeChunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
