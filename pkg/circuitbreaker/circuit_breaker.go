package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// defaultProbeQuota is the number of trial calls allowed while half-open.
const defaultProbeQuota = 3

// OpenError is returned when the breaker rejects a call without executing it.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s circuit is open", e.Name)
}

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

// Breaker guards calls to one external API. After maxFailures consecutive
// failures it rejects calls outright until the cooldown passes, then lets a
// limited number of probes through; the probes either close it again or
// re-open it. Suppressed calls are never replayed.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	logger      *logrus.Logger

	mu             sync.Mutex
	state          State
	failures       int
	probes         int
	probeSuccesses int
	openedAt       time.Time
}

func New(name string, maxFailures int, cooldown time.Duration, logger *logrus.Logger) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		logger:      logger,
	}
}

// Execute runs fn unless the breaker is open. Any error from fn counts as a
// failure; callers that want a rejection to pass through without tripping the
// breaker return nil from fn and surface the error themselves.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return &OpenError{Name: b.name}
	}

	if err := fn(ctx); err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probes >= defaultProbeQuota {
			return false
		}
		b.probes++
		return true
	default:
		return false
	}
}

// maybeHalfOpen transitions open to half-open once the cooldown has passed.
// Caller holds the lock.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
		b.probes = 0
		b.probeSuccesses = 0
		b.logger.WithField("circuit", b.name).Info("Circuit half-open, probing")
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probeSuccesses++
		if b.probeSuccesses >= defaultProbeQuota {
			b.state = StateClosed
			b.failures = 0
			b.logger.WithField("circuit", b.name).Info("Circuit closed after recovery")
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

// trip opens the circuit. Caller holds the lock.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.logger.WithFields(logrus.Fields{
		"circuit":  b.name,
		"failures": b.failures,
	}).Warn("Circuit opened")
}
