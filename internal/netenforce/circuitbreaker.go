package netenforce

import (
	"fmt"
	"sync"
	"time"
)

// circuitState is the standard three-state breaker (closed/open/half-open),
// tracked per managed interface around repeated failing tc invocations.
type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half-open"
)

type circuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// ifaceCircuitBreaker trips after repeated failing tc invocations on one
// interface, to stop hammering a kernel surface that is already erroring
// (e.g. an interface that disappeared).
type ifaceCircuitBreaker struct {
	name            string
	config          circuitBreakerConfig
	mu              sync.RWMutex
	state           circuitState
	failureCount    int
	lastFailureTime time.Time
}

func newIfaceCircuitBreaker(name string) *ifaceCircuitBreaker {
	return &ifaceCircuitBreaker{
		name:   name,
		config: circuitBreakerConfig{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second},
		state:  circuitClosed,
	}
}

// circuitBreakerOpenError is returned instead of invoking tc at all while
// a breaker is open.
type circuitBreakerOpenError struct{ iface string }

func (e *circuitBreakerOpenError) Error() string {
	return fmt.Sprintf("netenforce: circuit breaker open for interface %q", e.iface)
}

func (cb *ifaceCircuitBreaker) call(op func() error) error {
	state := cb.getState()

	if state == circuitOpen {
		if time.Since(cb.lastFailureTime) > cb.config.RecoveryTimeout {
			cb.setState(circuitHalfOpen)
		} else {
			return &circuitBreakerOpenError{iface: cb.name}
		}
	}

	err := op()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *ifaceCircuitBreaker) getState() circuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *ifaceCircuitBreaker) setState(s circuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = s
}

func (cb *ifaceCircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.failureCount >= cb.config.FailureThreshold {
		cb.state = circuitOpen
	}
}

func (cb *ifaceCircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	if cb.state == circuitHalfOpen {
		cb.state = circuitClosed
	}
}
