package ai

import (
	"sync"
	"time"
)

// ewmaAlpha is the smoothing factor for rolling success rate and latency.
const ewmaAlpha = 0.2

// ProviderHealth is a point-in-time view of one provider's health.
type ProviderHealth struct {
	ProviderID  string        `json:"providerId"`
	SuccessRate float64       `json:"successRate"`
	AvgLatency  time.Duration `json:"avgLatency"`
	Circuit     CircuitState  `json:"-"`
	CircuitName string        `json:"circuit"`
	Attempts    int64         `json:"attempts"`
}

type outcome struct {
	success bool
	latency time.Duration
}

// healthTracker owns all mutable health state for one provider. Outcomes are
// recorded through a channel consumed by a single goroutine, so concurrent
// sessions never race on breaker transitions or the rolling stats.
type healthTracker struct {
	providerID string
	breaker    *CircuitBreaker
	reports    chan outcome
	done       chan struct{}

	mu          sync.RWMutex
	successRate float64
	avgLatency  time.Duration
	attempts    int64
}

func newHealthTracker(providerID string, cfg BreakerConfig) *healthTracker {
	t := &healthTracker{
		providerID:  providerID,
		breaker:     NewCircuitBreaker(cfg),
		reports:     make(chan outcome, 64),
		done:        make(chan struct{}),
		successRate: 1.0,
	}
	go t.run()
	return t
}

// run is the single writer for this provider's health state.
func (t *healthTracker) run() {
	for {
		select {
		case <-t.done:
			return
		case o := <-t.reports:
			t.apply(o)
		}
	}
}

func (t *healthTracker) apply(o outcome) {
	if o.success {
		t.breaker.Success()
	} else {
		t.breaker.Failure()
	}

	t.mu.Lock()
	t.attempts++
	observed := 0.0
	if o.success {
		observed = 1.0
	}
	t.successRate = ewmaAlpha*observed + (1-ewmaAlpha)*t.successRate
	if o.success && o.latency > 0 {
		if t.avgLatency == 0 {
			t.avgLatency = o.latency
		} else {
			t.avgLatency = time.Duration(ewmaAlpha*float64(o.latency) + (1-ewmaAlpha)*float64(t.avgLatency))
		}
	}
	t.mu.Unlock()
}

// record queues an outcome. It never blocks the request path; if the report
// queue is full the outcome is applied inline, which is still serialized by
// the breaker's own lock.
func (t *healthTracker) record(o outcome) {
	select {
	case t.reports <- o:
	default:
		t.apply(o)
	}
}

// allow asks the breaker whether a request may proceed.
func (t *healthTracker) allow() error {
	return t.breaker.Allow()
}

// baselineLatency returns the rolling latency baseline, or 0 if unknown.
func (t *healthTracker) baselineLatency() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.avgLatency
}

// health returns a snapshot.
func (t *healthTracker) health() ProviderHealth {
	state := t.breaker.State()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ProviderHealth{
		ProviderID:  t.providerID,
		SuccessRate: t.successRate,
		AvgLatency:  t.avgLatency,
		Circuit:     state,
		CircuitName: state.String(),
		Attempts:    t.attempts,
	}
}

// close stops the writer goroutine.
func (t *healthTracker) close() {
	close(t.done)
}

// drain applies all queued outcomes synchronously. Test helper.
func (t *healthTracker) drain() {
	for {
		select {
		case o := <-t.reports:
			t.apply(o)
		default:
			return
		}
	}
}
