package circuit_breaker

import (
	"errors"
	"sync"
	"time"
)

type State uint8

const (
	// Closed - calls pass through, Open - calls fail fast,
	// HalfOpen - calls pass through until the first failure.
	Closed   State = 1
	Open     State = 2
	HalfOpen State = 3
)

var ErrOpen = errors.New("circuit breaker is open")

type CircuitBreaker interface {
	Call(service func() error) error
	Reset()
}

type circuitBreaker struct {
	mu    sync.Mutex
	state State

	// sliding window of the last windowSize call outcomes, true = failed
	window     []bool
	windowSize int
	pos        int

	// failure ratio that trips the breaker
	threshold float64
	// how long the breaker stays open before probing
	cooldown        time.Duration
	lastAttemptedAt time.Time

	// consecutive successes required in HalfOpen to close again
	recoveryCalls int
	successCount  int
}

func New(windowSize int, cooldown time.Duration, threshold float64, recoveryCalls int) CircuitBreaker {
	return &circuitBreaker{
		state:         Closed,
		window:        make([]bool, windowSize),
		windowSize:    windowSize,
		threshold:     threshold,
		cooldown:      cooldown,
		recoveryCalls: recoveryCalls,
	}
}

func (cb *circuitBreaker) Call(service func() error) error {
	cb.mu.Lock()
	if cb.state == Open {
		if time.Since(cb.lastAttemptedAt) <= cb.cooldown {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.state = HalfOpen
		cb.successCount = 0
	}
	cb.mu.Unlock()

	err := service()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.window[cb.pos] = err != nil
	cb.pos = (cb.pos + 1) % cb.windowSize

	if cb.state == HalfOpen {
		if err != nil {
			cb.trip()
		} else {
			cb.successCount++
			if cb.successCount > cb.recoveryCalls {
				cb.Reset()
			}
		}
		return err
	}

	fails := 0
	for _, failed := range cb.window {
		if failed {
			fails++
		}
	}
	if float64(fails)/float64(cb.windowSize) >= cb.threshold {
		cb.trip()
	}

	return err
}

func (cb *circuitBreaker) trip() {
	cb.state = Open
	cb.successCount = 0
	cb.lastAttemptedAt = time.Now()
}

func (cb *circuitBreaker) Reset() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.successCount = 0
	cb.pos = 0
	cb.state = Closed
}
