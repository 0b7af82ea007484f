package session

import (
	"log/slog"
	"sync/atomic"

	"github.com/attuneai/attune/server/internal/observability"
)

// envelope pairs an outbound event with the synthesis epoch that produced it.
// Epoch 0 marks lifecycle events (status, pong, error) that are never
// superseded.
type envelope struct {
	epoch uint64
	event *OutboundEvent
}

// dispatcher serializes all outbound events for one session onto the
// connection in the order the pipeline produced them. The session task is the
// only sender and closes the queue on shutdown; the remaining buffered events
// are flushed before the connection is released.
type dispatcher struct {
	conn    Conn
	queue   chan envelope
	done    chan struct{}
	epoch   *atomic.Uint64
	log     *observability.SessionContext
	metrics *observability.Metrics
}

func newDispatcher(conn Conn, size int, epoch *atomic.Uint64, log *observability.SessionContext, metrics *observability.Metrics) *dispatcher {
	if size <= 0 {
		size = 32
	}
	return &dispatcher{
		conn:    conn,
		queue:   make(chan envelope, size),
		done:    make(chan struct{}),
		epoch:   epoch,
		log:     log,
		metrics: metrics,
	}
}

// run writes queued events until the owner closes the queue. A batch whose
// epoch no longer matches the session's was superseded by a newer inbound
// message and is dropped, so the client never sees an answer to a stale
// message after a newer one.
func (d *dispatcher) run() {
	defer close(d.done)
	defer d.conn.Close() //nolint:errcheck

	for env := range d.queue {
		if env.epoch != 0 && env.epoch != d.epoch.Load() {
			d.log.Debug("dropping superseded batch",
				slog.Uint64("epoch", env.epoch),
				slog.Int64(observability.LogFieldSequence, env.event.Sequence))
			continue
		}
		if err := d.conn.WriteJSON(env.event); err != nil {
			d.log.Warn("outbound write failed",
				slog.String(observability.LogFieldEventType, env.event.Type),
				slog.String("error", err.Error()))
			continue
		}
		d.metrics.EventDispatched()
	}
}
