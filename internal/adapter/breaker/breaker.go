// Package breaker fails remote calls fast while the processor is unreachable.
//
// Only transport trouble counts as a failure: connection errors, 5xx and 429
// responses. Declines and invalid requests are answers from a healthy
// processor and never trip the circuit.
package breaker

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourorg/stripe-gateway/internal/adapter"
)

// State represents the state of the circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold         = 5
	defaultOpenStateTimeout         = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 2
)

var rejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stripe_gateway_breaker_rejections_total",
	Help: "Remote calls rejected because the circuit was open.",
})

// GetRejectionsTotal exposes the rejection counter for tests.
func GetRejectionsTotal() prometheus.Counter { return rejectionsTotal }

// Settings tune the breaker. Zero values fall back to defaults.
type Settings struct {
	FailureThreshold         int
	OpenTimeout              time.Duration
	HalfOpenSuccessThreshold int
}

// CircuitBreaker tracks the health of a single remote endpoint.
type CircuitBreaker struct {
	mu                       sync.Mutex
	state                    State
	consecutiveFailures      int
	consecutiveSuccesses     int
	openUntil                time.Time
	failureThreshold         int
	openStateTimeout         time.Duration
	halfOpenSuccessThreshold int
	now                      func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(s Settings) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:                    Closed,
		failureThreshold:         s.FailureThreshold,
		openStateTimeout:         s.OpenTimeout,
		halfOpenSuccessThreshold: s.HalfOpenSuccessThreshold,
		now:                      time.Now,
	}
	if cb.failureThreshold <= 0 {
		cb.failureThreshold = defaultFailureThreshold
	}
	if cb.openStateTimeout <= 0 {
		cb.openStateTimeout = defaultOpenStateTimeout
	}
	if cb.halfOpenSuccessThreshold <= 0 {
		cb.halfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	return cb
}

// AllowRequest reports whether a call may go out. An expired open period
// moves the breaker to half-open.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Open:
		if cb.now().After(cb.openUntil) {
			cb.state = HalfOpen
			cb.consecutiveSuccesses = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordFailure records a transport failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.trip()
		}
	case HalfOpen:
		cb.trip()
	}
}

// RecordSuccess records a call that reached the processor.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.consecutiveFailures = 0
	case HalfOpen:
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.halfOpenSuccessThreshold {
			cb.state = Closed
			cb.consecutiveFailures = 0
			cb.consecutiveSuccesses = 0
		}
	}
}

// GetState returns the current state without transitioning it.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// caller holds mu
func (cb *CircuitBreaker) trip() {
	cb.state = Open
	cb.openUntil = cb.now().Add(cb.openStateTimeout)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}

// IsFailure reports whether err says the processor could not be reached.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	var remote *adapter.RemoteError
	if !errors.As(err, &remote) {
		return true
	}
	if remote.Type == adapter.ErrorTypeAPIConnection {
		return true
	}
	return remote.HTTPStatus >= http.StatusInternalServerError ||
		remote.HTTPStatus == http.StatusTooManyRequests
}
