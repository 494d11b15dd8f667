package circuitbreaker

import (
	"sync"
	"time"

	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/metrics"
)

// CircuitBreaker implements the circuit breaker pattern for calls to the
// storefront API. It trips after threshold failures inside window and lets
// calls through again after resetTimeout.
type CircuitBreaker struct {
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	now           func() time.Time
	logger        logger.Logger
	mu            sync.Mutex
}

// State is a snapshot of the breaker for status endpoints
type State struct {
	Enabled      bool      `json:"enabled"`
	Open         bool      `json:"open"`
	FailureCount int       `json:"failure_count"`
	Threshold    int       `json:"threshold"`
	LastFailure  time.Time `json:"last_failure"`
	TripTime     time.Time `json:"trip_time"`
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(enabled bool, threshold int, window time.Duration, resetTimeout time.Duration, logger logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		enabled:       enabled,
		failThreshold: threshold,
		failureWindow: window,
		resetTimeout:  resetTimeout,
		now:           time.Now,
		logger:        logger,
	}
}

// RecordFailure records a failure and trips the circuit if threshold is exceeded
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	// If the circuit is already tripped, check if it's time to try again
	if cb.tripped {
		if now.Sub(cb.tripTime) > cb.resetTimeout {
			cb.logger.Info("Circuit breaker: attempting to reset after timeout")
			cb.closeLocked()
		} else {
			return true
		}
	}

	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		metrics.CircuitOpen.Set(1)
		cb.logger.Error("Circuit breaker tripped: %d intent failures in %v", cb.failureCount, cb.failureWindow)
		return true
	}

	return false
}

// RecordSuccess clears the failure streak
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// If tripped but reset timeout has passed, try again
	if cb.tripped && cb.now().Sub(cb.tripTime) > cb.resetTimeout {
		cb.closeLocked()
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closeLocked()
}

func (cb *CircuitBreaker) closeLocked() {
	cb.tripped = false
	cb.failureCount = 0
	metrics.CircuitOpen.Set(0)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	open := cb.IsOpen()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		Enabled:      cb.enabled,
		Open:         open,
		FailureCount: cb.failureCount,
		Threshold:    cb.failThreshold,
		LastFailure:  cb.lastFailure,
		TripTime:     cb.tripTime,
	}
}
