// Package providermgr is the Provider Manager (spec §4.3): per-chain ordered
// provider pools with health scoring, circuit breaking, failover, and
// streaming-cursor arbitration. Grounded on
// src/chainadapter/rpc/health.go's SimpleHealthTracker (circuit breaker,
// rolling-average latency, weighted health score) generalized from a flat
// endpoint-string key to the provider.ApiClient capability interface, and on
// src/chainadapter/rpc/http.go's provider-try-loop for failover ordering.
package providermgr

import (
	"sync"
	"time"
)

// Circuit is the breaker state of a single provider within a chain's pool.
type Circuit string

const (
	CircuitClosed   Circuit = "closed"
	CircuitOpen     Circuit = "open"
	CircuitHalfOpen Circuit = "half-open"
)

// providerState is the mutable per-provider bookkeeping the manager
// maintains, per spec §4.3: "{consecutiveFailures, lastError, lastLatencyMs,
// circuit, circuitOpenedAt, lastSuccessAt}".
type providerState struct {
	mu                  sync.Mutex
	name                string
	totalCalls          int64
	successfulCalls     int64
	consecutiveFailures int
	consecutiveSuccesses int
	lastError           error
	lastLatencyMs       int64
	circuit             Circuit
	circuitOpenedAt     time.Time
	lastSuccessAt       time.Time
	rateLimitStreak     int
	rateLimitSince      time.Time
}

func newProviderState(name string) *providerState {
	return &providerState{name: name, circuit: CircuitClosed}
}

// recordSuccess closes an open/half-open circuit after successThreshold
// consecutive successes, mirroring SimpleHealthTracker.RecordSuccess.
func (s *providerState) recordSuccess(latencyMs int64, successThreshold int, clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCalls++
	s.successfulCalls++
	s.consecutiveFailures = 0
	s.consecutiveSuccesses++
	s.rateLimitStreak = 0
	s.lastSuccessAt = clock()
	s.lastLatencyMs = latencyMs

	if s.circuit != CircuitClosed && s.consecutiveSuccesses >= successThreshold {
		s.circuit = CircuitClosed
	}
}

// recordFailure opens the circuit after failureThreshold consecutive
// failures. Per spec §4.3, rate-limit responses do not count toward the
// failure threshold unless they persist past a configured window — callers
// report them via recordRateLimit instead of calling this.
func (s *providerState) recordFailure(err error, failureThreshold int, clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCalls++
	s.consecutiveSuccesses = 0
	s.consecutiveFailures++
	s.lastError = err

	if s.consecutiveFailures >= failureThreshold && s.circuit == CircuitClosed {
		s.circuit = CircuitOpen
		s.circuitOpenedAt = clock()
	} else if s.circuit == CircuitHalfOpen {
		// Trial request failed: reopen.
		s.circuit = CircuitOpen
		s.circuitOpenedAt = clock()
	}
}

// recordRateLimit tracks a persistent rate-limit streak; once it exceeds
// rateLimitWindow, it is treated as a failure for circuit-breaking purposes.
func (s *providerState) recordRateLimit(window time.Duration, failureThreshold int, clock func() time.Time) {
	s.mu.Lock()
	now := clock()
	if s.rateLimitStreak == 0 {
		s.rateLimitSince = now
	}
	s.rateLimitStreak++
	persisted := now.Sub(s.rateLimitSince) > window
	s.mu.Unlock()

	if persisted {
		s.recordFailure(errRateLimitPersisted, failureThreshold, clock)
	}
}

// availability reports whether s may currently be selected, flipping an
// open circuit to half-open once cooldown has elapsed. A half-open provider
// is selectable again; a failure while half-open reopens the circuit (see
// recordFailure).
func (s *providerState) availability(cooldown time.Duration, clock func() time.Time) Circuit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.circuit == CircuitOpen && clock().Sub(s.circuitOpenedAt) >= cooldown {
		s.circuit = CircuitHalfOpen
	}
	return s.circuit
}

// score computes the weighted health score used for ordering candidates:
// successRate*0.7 + latencyFactor*0.3, per src/chainadapter/rpc/health.go's
// GetBestEndpoint, plus a small stable-order tiebreak input (rank).
func (s *providerState) score(rank int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totalCalls == 0 {
		return 1.0 - float64(rank)*0.001 // unknown providers default to high priority
	}
	successRate := float64(s.successfulCalls) / float64(s.totalCalls)
	latencyFactor := 1.0 / (float64(s.lastLatencyMs) + 1.0)
	return successRate*0.7 + latencyFactor*0.3 - float64(rank)*0.001
}

func (s *providerState) snapshot() ProviderHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ProviderHealth{
		Name:                s.name,
		ConsecutiveFailures: s.consecutiveFailures,
		LastError:           s.lastError,
		LastLatencyMs:       s.lastLatencyMs,
		Circuit:             s.circuit,
		CircuitOpenedAt:     s.circuitOpenedAt,
		LastSuccessAt:       s.lastSuccessAt,
	}
}

// ProviderHealth is the read-only view of a provider's state exposed to
// callers (metrics, diagnostics).
type ProviderHealth struct {
	Name                string
	ConsecutiveFailures int
	LastError           error
	LastLatencyMs       int64
	Circuit             Circuit
	CircuitOpenedAt      time.Time
	LastSuccessAt        time.Time
}
