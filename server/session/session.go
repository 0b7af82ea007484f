package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/attuneai/attune/server/convo"
	pipeerr "github.com/attuneai/attune/server/internal/errors"
	"github.com/attuneai/attune/server/internal/observability"
	"github.com/attuneai/attune/server/synthesis"
)

// cycleResult carries a finished synthesis cycle's outbound event back to the
// session task, which forwards it through the dispatcher.
type cycleResult struct {
	epoch uint64
	event *OutboundEvent
	items []synthesis.Suggestion
}

// Session owns one live connection: a processing task consuming the bounded
// inbound queue, a dispatcher task writing ordered outbound events, and the
// context window and novelty history both tasks feed.
type Session struct {
	id      string
	mgr     *Manager
	cfg     Config
	log     *observability.SessionContext
	metrics *observability.Metrics

	state atomic.Int32
	epoch atomic.Uint64
	drops atomic.Int64

	window     *convo.Window
	history    *synthesis.History
	dispatcher *dispatcher

	inbound     chan *InboundEvent
	results     chan cycleResult
	diagnostics chan *OutboundEvent

	ctx         context.Context
	cancel      context.CancelFunc
	finished    chan struct{}
	cancelCycle context.CancelFunc

	mu          sync.Mutex
	lastSeq     int64
	closeEvent  *OutboundEvent
	closeReason string
	closeOnce   sync.Once
}

func newSession(mgr *Manager, conn Conn) *Session {
	id := uuid.New().String()
	log := observability.NewSessionContextWithID(mgr.logger, id)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:          id,
		mgr:         mgr,
		cfg:         mgr.cfg,
		log:         log,
		metrics:     mgr.metrics,
		window:      convo.NewWindow(mgr.cfg.WindowSize),
		history:     synthesis.NewHistory(mgr.cfg.HistorySize),
		inbound:     make(chan *InboundEvent, mgr.cfg.InboundQueue),
		results:     make(chan cycleResult, 4),
		diagnostics: make(chan *OutboundEvent, 4),
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
	}
	s.dispatcher = newDispatcher(conn, mgr.cfg.OutboundQueue, &s.epoch, log, mgr.metrics)
	return s
}

// ID returns the session identifier handed back to the caller at open.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// ingest validates and enqueues one inbound event. Out-of-sequence input is a
// protocol error: the caller gets the error immediately, a diagnostic event
// goes out through the dispatcher, and the session stays ACTIVE. Called from
// the transport's read goroutine, never from the session task.
func (s *Session) ingest(ev *InboundEvent) error {
	if s.State() >= StateClosing {
		return pipeerr.SessionClosed(s.id)
	}
	if ev.Type == EventPing {
		s.enqueue(ev)
		return nil
	}
	if ev.Type != EventMessage {
		return s.protocolViolation(fmt.Sprintf("unknown event type %q", ev.Type))
	}
	if ev.Text == "" {
		return s.protocolViolation("message text is empty")
	}

	s.mu.Lock()
	want := s.lastSeq + 1
	if ev.Sequence != want {
		s.mu.Unlock()
		return s.protocolViolation(fmt.Sprintf("out-of-sequence message: got %d, want %d", ev.Sequence, want))
	}
	s.lastSeq = ev.Sequence
	s.mu.Unlock()

	// The accepted message supersedes any in-flight cycle right here, before
	// the session task wakes: a finished result already queued for an older
	// message must never reach the wire once a newer one is admitted.
	s.epoch.Add(1)

	s.enqueue(ev)
	return nil
}

// protocolViolation reports malformed input with a diagnostic event. The
// violation is session-local: the window, the sequence counter and the
// session state are untouched, so the caller can resume with the next
// expected sequence.
func (s *Session) protocolViolation(msg string) error {
	select {
	case s.diagnostics <- errorEvent(string(pipeerr.ErrCodeProtocol), msg):
	default:
		s.log.Warn("diagnostic queue full, dropped protocol error event")
	}
	return pipeerr.Protocol(msg)
}

// enqueue delivers into the bounded inbound queue. On overflow the oldest
// unprocessed event is dropped and counted; the session task surfaces the
// drop as a Backpressure status before processing the next event.
func (s *Session) enqueue(ev *InboundEvent) {
	for {
		select {
		case s.inbound <- ev:
			return
		case <-s.ctx.Done():
			return
		default:
		}
		select {
		case dropped := <-s.inbound:
			s.drops.Add(1)
			s.metrics.MessageDropped()
			s.log.Warn("inbound queue full, dropped oldest unprocessed message",
				slog.Int64(observability.LogFieldSequence, dropped.Sequence))
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

// run is the session's processing task. It owns the window, the history, the
// idle timers and all sends into the dispatcher queue.
func (s *Session) run() {
	defer s.finalize()

	s.setState(StateActive)
	s.send(statusEvent(StateActive.String(), ""), 0)

	idle := time.NewTimer(s.cfg.IdleInterval)
	defer idle.Stop()
	ceiling := time.NewTimer(s.cfg.IdleCeiling)
	defer ceiling.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.inbound:
			if n := s.drops.Swap(0); n > 0 {
				s.send(statusEvent(string(pipeerr.ErrCodeBackpressure),
					fmt.Sprintf("dropped %d oldest unprocessed messages", n)), 0)
			}
			switch ev.Type {
			case EventPing:
				s.send(pongEvent(), 0)
			case EventMessage:
				if s.State() == StateIdle {
					s.setState(StateActive)
					s.send(statusEvent(StateActive.String(), ""), 0)
				}
				resetTimer(idle, s.cfg.IdleInterval)
				resetTimer(ceiling, s.cfg.IdleCeiling)
				ts := ev.Timestamp
				if ts.IsZero() {
					ts = time.Now()
				}
				s.window.Append(convo.Message{
					SessionID: s.id,
					Sender:    ev.Sender,
					Text:      ev.Text,
					Sequence:  ev.Sequence,
					ArrivedAt: ts,
				})
				s.startCycle(ev.Sequence)
			}

		case ev := <-s.diagnostics:
			s.send(ev, 0)

		case res := <-s.results:
			if res.epoch != s.epoch.Load() {
				continue
			}
			if len(res.items) > 0 {
				s.history.Remember(res.items)
			}
			s.send(res.event, res.epoch)

		case <-idle.C:
			if s.State() == StateActive {
				s.setState(StateIdle)
				s.send(statusEvent(StateIdle.String(), "no inbound traffic"), 0)
			}

		case <-ceiling.C:
			s.log.Info("idle ceiling reached, closing session")
			s.closeWith(nil, "idle ceiling exceeded")
			return
		}
	}
}

// startCycle cancels any in-flight cycle and launches a new one under the
// cycle budget. The launch takes its own epoch on top of the bump ingest
// already did, so results race neither admission nor this handoff.
func (s *Session) startCycle(sequence int64) {
	if s.cancelCycle != nil {
		s.cancelCycle()
		s.metrics.CycleSuperseded()
	}
	epoch := s.epoch.Add(1)
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CycleBudget)
	s.cancelCycle = cancel

	go s.mgr.runCycle(ctx, cancel, s, epoch, s.window.Snapshot(), s.history.Clone(), sequence)
}

// send queues one outbound event. The session task is the only caller, so
// queue close in finalize cannot race a send.
func (s *Session) send(ev *OutboundEvent, epoch uint64) {
	s.dispatcher.queue <- envelope{epoch: epoch, event: ev}
}

// closeWith requests shutdown with an optional final diagnostic event. Safe
// to call from any goroutine, any number of times.
func (s *Session) closeWith(ev *OutboundEvent, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeEvent = ev
		s.closeReason = reason
		s.mu.Unlock()
	})
	s.cancel()
}

// finalize drives CLOSING -> CLOSED: cancel in-flight work, flush the
// diagnostic and buffered outbound events, release the connection, then
// deregister. Nothing is emitted once the state reaches CLOSED.
func (s *Session) finalize() {
	s.setState(StateClosing)
	if s.cancelCycle != nil {
		s.cancelCycle()
	}

	s.mu.Lock()
	ev := s.closeEvent
	reason := s.closeReason
	s.mu.Unlock()

	if ev != nil {
		s.send(ev, 0)
	}
	s.send(statusEvent(StateClosing.String(), reason), 0)

	close(s.dispatcher.queue)
	<-s.dispatcher.done

	s.setState(StateClosed)
	s.log.Info("session closed",
		slog.String("reason", reason),
		slog.Int64(observability.LogFieldDuration, s.log.Duration().Milliseconds()))
	s.mgr.remove(s.id)
	close(s.finished)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
