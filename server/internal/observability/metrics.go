package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects counters for the coaching pipeline.
type Metrics struct {
	mu sync.Mutex

	sessionsOpened   atomic.Int64
	sessionsActive   atomic.Int64
	sessionsRejected atomic.Int64

	cyclesTotal      atomic.Int64
	cyclesSuperseded atomic.Int64
	cyclesDegraded   atomic.Int64

	eventsDispatched atomic.Int64
	messagesDropped  atomic.Int64

	providerMetrics map[string]*ProviderMetrics

	cycleDurations []time.Duration
	maxDurations   int
}

// ProviderMetrics holds per-provider counters.
type ProviderMetrics struct {
	attempts atomic.Int64
	failures atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		providerMetrics: make(map[string]*ProviderMetrics),
		cycleDurations:  make([]time.Duration, 0, maxDurations),
		maxDurations:    maxDurations,
	}
}

// Global metrics instance.
var globalMetrics = NewMetrics(1000)

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// SessionOpened records a session admission.
func (m *Metrics) SessionOpened() {
	m.sessionsOpened.Add(1)
	m.sessionsActive.Add(1)
}

// SessionClosed records a session teardown.
func (m *Metrics) SessionClosed() {
	m.sessionsActive.Add(-1)
}

// SessionRejected records a session rejected at admission.
func (m *Metrics) SessionRejected() {
	m.sessionsRejected.Add(1)
}

// CycleStarted records a synthesis cycle start.
func (m *Metrics) CycleStarted() {
	m.cyclesTotal.Add(1)
}

// CycleSuperseded records a cycle cancelled by a newer message.
func (m *Metrics) CycleSuperseded() {
	m.cyclesSuperseded.Add(1)
}

// CycleDegraded records a cycle that ran without retrieval grounding.
func (m *Metrics) CycleDegraded() {
	m.cyclesDegraded.Add(1)
}

// EventDispatched records an outbound event written to a connection.
func (m *Metrics) EventDispatched() {
	m.eventsDispatched.Add(1)
}

// MessageDropped records an inbound message dropped under backpressure.
func (m *Metrics) MessageDropped() {
	m.messagesDropped.Add(1)
}

// ProviderAttempt records an attempt against a provider, failed or not.
func (m *Metrics) ProviderAttempt(providerID string, failed bool) {
	pm := m.getProviderMetrics(providerID)
	pm.attempts.Add(1)
	if failed {
		pm.failures.Add(1)
	}
}

// RecordCycleDuration records one cycle's wall time, keeping a bounded window.
func (m *Metrics) RecordCycleDuration(d time.Duration) {
	m.mu.Lock()
	if len(m.cycleDurations) >= m.maxDurations {
		m.cycleDurations = m.cycleDurations[1:]
	}
	m.cycleDurations = append(m.cycleDurations, d)
	m.mu.Unlock()
}

// Snapshot is a point-in-time view of the collected counters.
type Snapshot struct {
	SessionsOpened   int64            `json:"sessionsOpened"`
	SessionsActive   int64            `json:"sessionsActive"`
	SessionsRejected int64            `json:"sessionsRejected"`
	CyclesTotal      int64            `json:"cyclesTotal"`
	CyclesSuperseded int64            `json:"cyclesSuperseded"`
	CyclesDegraded   int64            `json:"cyclesDegraded"`
	EventsDispatched int64            `json:"eventsDispatched"`
	MessagesDropped  int64            `json:"messagesDropped"`
	AvgCycleMs       int64            `json:"avgCycleMs"`
	Providers        map[string]int64 `json:"providerFailures"`
}

// GetSnapshot returns the current counters.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg int64
	if n := len(m.cycleDurations); n > 0 {
		var total time.Duration
		for _, d := range m.cycleDurations {
			total += d
		}
		avg = (total / time.Duration(n)).Milliseconds()
	}

	providers := make(map[string]int64, len(m.providerMetrics))
	for id, pm := range m.providerMetrics {
		providers[id] = pm.failures.Load()
	}

	return Snapshot{
		SessionsOpened:   m.sessionsOpened.Load(),
		SessionsActive:   m.sessionsActive.Load(),
		SessionsRejected: m.sessionsRejected.Load(),
		CyclesTotal:      m.cyclesTotal.Load(),
		CyclesSuperseded: m.cyclesSuperseded.Load(),
		CyclesDegraded:   m.cyclesDegraded.Load(),
		EventsDispatched: m.eventsDispatched.Load(),
		MessagesDropped:  m.messagesDropped.Load(),
		AvgCycleMs:       avg,
		Providers:        providers,
	}
}

func (m *Metrics) getProviderMetrics(providerID string) *ProviderMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.providerMetrics[providerID]
	if !ok {
		pm = &ProviderMetrics{}
		m.providerMetrics[providerID] = pm
	}
	return pm
}
